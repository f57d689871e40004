package config

// PatchEntry is one patch-pair record in a patch-config file: the old and
// new content keys the patch transforms between, and the key of the patch
// blob and its index.
type PatchEntry struct {
	OldKey   string
	NewKey   string
	PatchKey string
}

// PatchConfig is the parsed patch-config artifact.
//
// The core only needs to enumerate patch-pairs well enough to fetch their
// indices and bodies (spec: "patch indices are fetched and catalogued but
// not applied"); it does not interpret the ZBSDIFF1 patch bodies.
type PatchConfig struct {
	Entries []PatchEntry
}

// ParsePatchConfig parses "patch-entry" lines, each a
// "old-key new-key patch-key" token triple under the "patch-entry" key,
// repeated as "patch-entry-N" for N > 0 the way build-config repeats
// numbered keys.
func ParsePatchConfig(f *File) (*PatchConfig, error) {
	pc := &PatchConfig{}
	for key, tokens := range f.Values {
		if !isPatchEntryKey(key) {
			continue
		}
		if len(tokens) < 3 {
			continue
		}
		pc.Entries = append(pc.Entries, PatchEntry{
			OldKey:   tokens[0],
			NewKey:   tokens[1],
			PatchKey: tokens[2],
		})
	}
	return pc, nil
}

func isPatchEntryKey(key string) bool {
	return key == "patch-entry" || len(key) > len("patch-entry-") && key[:len("patch-entry-")] == "patch-entry-"
}
