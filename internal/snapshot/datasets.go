package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// loadSiblingDatasets reads every *.json file under a sibling datasets/
// directory next to sourcePath and returns them keyed by base file name
// (without extension). Read errors are tolerated: they are logged and the
// file is skipped, never failing the build.
func loadSiblingDatasets(sourcePath string, log *logger.Logger) map[string]any {
	if sourcePath == "" {
		return nil
	}
	dir := filepath.Join(filepath.Dir(sourcePath), "datasets")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	datasets := make(map[string]any)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithField("path", path).WithField("err", err.Error()).Warn("skipping unreadable dataset file")
			continue
		}
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			log.WithField("path", path).WithField("err", err.Error()).Warn("skipping invalid dataset JSON")
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		datasets[name] = parsed
	}
	if len(datasets) == 0 {
		return nil
	}
	return datasets
}

// datasetRef is an unresolved external dataset placeholder discovered
// inside a service's config. Resolution at dispatch time is out of scope
// for the snapshot builder; these are recorded so the dispatcher's
// collaborators can resolve them later.
type datasetRef struct {
	Ref string `json:"ref"`
}

// discoverDatasetRefs runs a recursive JSONPath scan over an arbitrarily
// nested config document looking for {"ref": "..."} placeholders. gjson
// (used by the config store for flat/known-shape lookups) cannot express an
// open-ended "anywhere in the tree" query; jsonpath's recursive descent
// operator can.
func discoverDatasetRefs(config json.RawMessage) []datasetRef {
	if len(config) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(config, &doc); err != nil {
		return nil
	}

	result, err := jsonpath.Get("$..ref", doc)
	if err != nil {
		return nil
	}

	var refs []datasetRef
	switch v := result.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				refs = append(refs, datasetRef{Ref: s})
			}
		}
	case string:
		refs = append(refs, datasetRef{Ref: v})
	}
	return refs
}

// mergeDatasets folds unresolved dataset references into the sibling-file
// datasets map under a reserved "_refs" key, keeping both sources available
// to route metadata without conflating resolved and unresolved entries.
func mergeDatasets(fileDatasets map[string]any, refs []datasetRef) map[string]any {
	if len(refs) == 0 {
		return fileDatasets
	}
	out := fileDatasets
	if out == nil {
		out = make(map[string]any)
	}
	out["_refs"] = refs
	return out
}
