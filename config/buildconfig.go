package config

import "fmt"

// BuildConfig is the parsed build-config artifact: the manifests that
// together describe one build (encoding, root, install, download, and
// optionally a patch set).
type BuildConfig struct {
	raw *File

	// EncodingContentKey and EncodingEncodedKey are the two keys the
	// "encoding" field carries: the content key identifies the plain
	// encoding file, the encoded key its on-disk (possibly BLTE-framed)
	// form.
	EncodingContentKey string
	EncodingEncodedKey string

	RootKey        string
	InstallKey     string
	DownloadKey    string
	PatchKey       string // empty if this build has no patch manifest
	PatchConfigKey string // empty if this build has no patch-config
}

// ParseBuildConfig parses a build-config file's already-parsed key/value
// form into typed fields.
func ParseBuildConfig(f *File) (*BuildConfig, error) {
	bc := &BuildConfig{raw: f}

	enc, ok := f.Get("encoding")
	if !ok || len(enc) == 0 {
		return nil, fmt.Errorf("%w: build-config missing required key %q", ErrMalformed, "encoding")
	}
	bc.EncodingContentKey = enc[0]
	if len(enc) > 1 {
		bc.EncodingEncodedKey = enc[1]
	} else {
		bc.EncodingEncodedKey = enc[0]
	}

	for key, dst := range map[string]*string{
		"root":    &bc.RootKey,
		"install": &bc.InstallKey,
		"download": &bc.DownloadKey,
	} {
		v, ok := f.Get(key)
		if !ok || len(v) == 0 {
			return nil, fmt.Errorf("%w: build-config missing required key %q", ErrMalformed, key)
		}
		*dst = v[0]
	}

	if v, ok := f.Get("patch"); ok && len(v) > 0 {
		bc.PatchKey = v[0]
	}
	if v, ok := f.Get("patch-config"); ok && len(v) > 0 {
		bc.PatchConfigKey = v[0]
	}

	return bc, nil
}
