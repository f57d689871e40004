package config

// CDNConfig is the parsed cdn-config artifact: the archive set and patch
// archive set for one build.
type CDNConfig struct {
	Archives          []string // ordered archive keys, cdn-config.archives
	ArchiveGroup      string   // key of the combined archive-group index
	PatchArchives     []string
	PatchArchiveGroup string
}

// ParseCDNConfig parses a cdn-config file's key/value form into typed
// fields. All fields are optional: a build may have no patch archives.
func ParseCDNConfig(f *File) (*CDNConfig, error) {
	cc := &CDNConfig{}
	if v, ok := f.Get("archives"); ok {
		cc.Archives = v
	}
	cc.ArchiveGroup = f.GetOne("archive-group")
	if v, ok := f.Get("patch-archives"); ok {
		cc.PatchArchives = v
	}
	cc.PatchArchiveGroup = f.GetOne("patch-archive-group")
	return cc, nil
}
