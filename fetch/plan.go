// Package fetch implements the metadata-graph fetch planner: given a set
// of resolved versions, it deduplicates logical builds, walks the
// versions → configs → indices → (bodies | loose | patches) DAG, and
// downloads each phase in bulk with at-most-once-per-key semantics.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ngdp/keg/catalog"
	"github.com/ngdp/keg/cdn"
	"github.com/ngdp/keg/config"
	"github.com/ngdp/keg/encoding"
	"github.com/ngdp/keg/manifest"
	"github.com/ngdp/keg/store"
)

// BuildKey deduplicates versions by build identity: every version row
// sharing one of these tuples collapses into a single logical build.
type BuildKey struct {
	BuildConfig   string
	CDNConfig     string
	ProductConfig string
}

// Options controls a fetch plan's scope.
type Options struct {
	// MetadataOnly stops the plan after indices and the manifests named by
	// each build-config are downloaded, before archive bodies, loose
	// files, or patch files are fetched.
	MetadataOnly bool
	// Concurrency bounds how many objects a single bulk phase downloads
	// in parallel. Defaults to 8 if zero.
	Concurrency int
}

// Report summarizes what a Fetch call did.
type Report struct {
	ConfigsFetched   int
	IndicesFetched   int
	ManifestsFetched int
	ArchivesFetched  int
	LooseFetched     int
	PatchesFetched   int
	Warnings         []string // one per skipped object: a network failure or an unparseable manifest
}

// Planner executes fetch plans against a selected CDN, writing verified
// objects into a local Store.
type Planner struct {
	store    *store.Store
	cdn      *cdn.Client
	selected catalog.Selected
	logger   *slog.Logger

	group singleflight.Group // collapses concurrent fetches of the same key
}

// New creates a Planner targeting the given store and CDN endpoint.
func New(s *store.Store, client *cdn.Client, selected catalog.Selected) *Planner {
	return &Planner{store: s, cdn: client, selected: selected}
}

// WithLogger sets the planner's logger.
func (p *Planner) WithLogger(logger *slog.Logger) *Planner {
	p.logger = logger
	return p
}

func (p *Planner) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Dedup collapses version rows into the distinct logical builds that
// need fetching at most once each.
func Dedup(versions []catalog.VersionRow) []BuildKey {
	seen := map[BuildKey]bool{}
	var out []BuildKey
	for _, v := range versions {
		k := BuildKey{BuildConfig: v.BuildConfig, CDNConfig: v.CDNConfig, ProductConfig: v.ProductConfig}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// keySet is an insertion-order-independent set of hex content keys.
type keySet map[string]struct{}

func (s keySet) add(key string) {
	if key != "" {
		s[key] = struct{}{}
	}
}

func (s keySet) slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// Fetch executes the full plan for the given versions: dedup, configs,
// indices, the build-config's manifests, then (unless MetadataOnly)
// archive bodies, loose files, and patch files, each phase
// bulk-downloaded with at-most-once-per-key semantics.
func (p *Planner) Fetch(ctx context.Context, versions []catalog.VersionRow, opts Options) (*Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	report := &Report{}
	builds := Dedup(versions)

	// Phase 1: configs.
	configKeys := keySet{}
	for _, b := range builds {
		if !p.store.HasConfig(b.BuildConfig) {
			configKeys.add(b.BuildConfig)
		}
		if !p.store.HasConfig(b.CDNConfig) {
			configKeys.add(b.CDNConfig)
		}
	}
	n, err := p.downloadBulk(ctx, opts.Concurrency, configKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindConfig, key, false, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.ConfigsFetched = n

	// Parse per-build configs now that they're all local.
	type parsed struct {
		build BuildKey
		bc    *config.BuildConfig
		cc    *config.CDNConfig
		pc    *config.PatchConfig
		dl    *manifest.Download      // download manifest, if build-config names one
		pm    *manifest.PatchManifest // patch manifest, if build-config names one
		root  *manifest.Root          // root manifest, if build-config names one
	}
	var parsedBuilds []parsed
	for _, b := range builds {
		// A build whose config objects never made it past the network
		// failure above (already recorded as a warning there) can't be
		// planned further; skip it rather than aborting the whole command.
		if !p.store.HasConfig(b.CDNConfig) || !p.store.HasConfig(b.BuildConfig) {
			p.log().Debug("skipping build with unavailable config objects", "build", b)
			continue
		}

		cc, err := p.readCDNConfig(b.CDNConfig)
		if err != nil {
			return report, fmt.Errorf("fetch: parsing cdn-config %s: %w", b.CDNConfig, err)
		}
		bc, err := p.readBuildConfig(b.BuildConfig)
		if err != nil {
			return report, fmt.Errorf("fetch: parsing build-config %s: %w", b.BuildConfig, err)
		}
		pb := parsed{build: b, bc: bc, cc: cc}
		if bc.PatchConfigKey != "" {
			if !p.store.HasConfig(bc.PatchConfigKey) {
				if err := p.fetchObject(ctx, store.KindConfig, bc.PatchConfigKey, false, false); err != nil {
					if _, ok := cdn.AsNetworkError(err); !ok {
						return report, err
					}
					report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", bc.PatchConfigKey, err))
				} else {
					pc, err := p.readPatchConfig(bc.PatchConfigKey)
					if err != nil {
						return report, fmt.Errorf("fetch: parsing patch-config %s: %w", bc.PatchConfigKey, err)
					}
					pb.pc = pc
				}
			} else {
				pc, err := p.readPatchConfig(bc.PatchConfigKey)
				if err != nil {
					return report, fmt.Errorf("fetch: parsing patch-config %s: %w", bc.PatchConfigKey, err)
				}
				pb.pc = pc
			}
		}
		parsedBuilds = append(parsedBuilds, pb)
	}

	// Phase 2: indices.
	indexKeys := keySet{}
	patchIndexKeys := keySet{}
	for _, pb := range parsedBuilds {
		for _, a := range pb.cc.Archives {
			if !p.store.HasIndex(a) {
				indexKeys.add(a)
			}
		}
		if pb.pc != nil {
			for _, e := range pb.pc.Entries {
				if !p.store.HasPatchIndex(e.PatchKey) {
					patchIndexKeys.add(e.PatchKey)
				}
			}
		}
	}
	n, err = p.downloadBulk(ctx, opts.Concurrency, indexKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindData, key, true, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.IndicesFetched = n

	// Patch indices are a separate set, stored under the patch namespace.
	n, err = p.downloadBulk(ctx, opts.Concurrency, patchIndexKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindPatch, key, true, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.IndicesFetched += n

	// Phase 2b: the manifest objects a build-config names directly
	// (encoding, install, root, download, patch) — part of the metadata
	// graph, not file content, so these are fetched even when
	// MetadataOnly is set and phase 3 is skipped.
	manifestKeys := keySet{}
	for _, pb := range parsedBuilds {
		for _, key := range []string{pb.bc.EncodingEncodedKey, pb.bc.InstallKey, pb.bc.RootKey, pb.bc.DownloadKey, pb.bc.PatchKey} {
			if key != "" && !p.store.HasData(key) {
				manifestKeys.add(key)
			}
		}
	}
	n, err = p.downloadBulk(ctx, opts.Concurrency, manifestKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindData, key, false, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.ManifestsFetched = n

	// Catalogue the download and patch manifests now that they're local:
	// download entries drive the loose-file phase's prefetch order, and
	// patch manifest pairs are cross-checked against patch-config's
	// triples (fetched and catalogued, never applied). An unparseable
	// manifest degrades that one build's cross-checks rather than
	// aborting the fetch, matching the planner's build-skip-on-missing-
	// config policy: one malformed optional artifact shouldn't block
	// every other build sharing the remote.
	for i := range parsedBuilds {
		pb := &parsedBuilds[i]
		if pb.bc.DownloadKey != "" && p.store.HasData(pb.bc.DownloadKey) {
			dl, err := p.readDownload(pb.bc.DownloadKey)
			if err != nil {
				p.log().Warn("skipping unparseable download manifest", "build", pb.build, "key", pb.bc.DownloadKey, "error", err)
				report.Warnings = append(report.Warnings, fmt.Sprintf("download manifest %s: %v", pb.bc.DownloadKey, err))
			} else {
				pb.dl = dl
			}
		}
		if pb.bc.PatchKey != "" && p.store.HasData(pb.bc.PatchKey) {
			pm, err := p.readPatchManifest(pb.bc.PatchKey)
			if err != nil {
				p.log().Warn("skipping unparseable patch manifest", "build", pb.build, "key", pb.bc.PatchKey, "error", err)
				report.Warnings = append(report.Warnings, fmt.Sprintf("patch manifest %s: %v", pb.bc.PatchKey, err))
			} else {
				pb.pm = pm
				p.crossCheckPatchManifest(pb.build, pm, pb.pc)
			}
		}
		if pb.bc.RootKey != "" && p.store.HasData(pb.bc.RootKey) {
			root, err := p.readRoot(pb.bc.RootKey)
			if err != nil {
				p.log().Warn("skipping unparseable root manifest", "build", pb.build, "key", pb.bc.RootKey, "error", err)
				report.Warnings = append(report.Warnings, fmt.Sprintf("root manifest %s: %v", pb.bc.RootKey, err))
			} else {
				pb.root = root
				enc, err := p.readEncoding(pb.bc.EncodingEncodedKey)
				if err != nil {
					return report, fmt.Errorf("fetch: parsing encoding file %s: %w", pb.bc.EncodingEncodedKey, err)
				}
				p.checkRootResolvable(pb.build, root, enc)
			}
		}
	}

	if opts.MetadataOnly {
		return report, nil
	}

	// Phase 3a: archive bodies.
	archiveKeys := keySet{}
	for _, pb := range parsedBuilds {
		for _, a := range pb.cc.Archives {
			if !p.store.HasData(a) {
				archiveKeys.add(a)
			}
		}
	}
	n, err = p.downloadBulk(ctx, opts.Concurrency, archiveKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindData, key, false, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.ArchivesFetched = n

	// Phase 3b: loose files resolved via encoding, not present in any
	// archive group and not already loose on disk. Ordered by each
	// build's download manifest priority (lower first) where a loose
	// key has one, so high-priority content fills the concurrency
	// window before the rest.
	priority := map[string]uint8{}
	for _, pb := range parsedBuilds {
		if pb.dl == nil {
			continue
		}
		for _, e := range pb.dl.ByPriority() {
			keyHex := fmt.Sprintf("%x", e.EncodedKey)
			if cur, ok := priority[keyHex]; !ok || e.Priority < cur {
				priority[keyHex] = e.Priority
			}
		}
	}

	looseKeys := keySet{}
	for _, pb := range parsedBuilds {
		group, err := p.synthesizeGroup(pb.cc)
		if err != nil {
			return report, fmt.Errorf("fetch: synthesizing archive group for %s: %w", pb.build.CDNConfig, err)
		}
		enc, err := p.readEncoding(pb.bc.EncodingEncodedKey)
		if err != nil {
			return report, fmt.Errorf("fetch: parsing encoding file %s: %w", pb.bc.EncodingEncodedKey, err)
		}
		for _, e := range enc.Entries {
			encodedKey := fmt.Sprintf("%x", e.EncodedKey)
			if _, _, _, ok := group.Lookup(encodedKey); ok {
				continue
			}
			if p.store.HasData(encodedKey) {
				continue
			}
			looseKeys.add(encodedKey)
		}
	}
	orderedLoose := looseKeys.slice()
	sort.SliceStable(orderedLoose, func(i, j int) bool {
		pi, iok := priority[orderedLoose[i]]
		pj, jok := priority[orderedLoose[j]]
		if !iok && !jok {
			return false
		}
		if !iok {
			return false
		}
		if !jok {
			return true
		}
		return pi < pj
	})
	n, err = p.downloadBulk(ctx, opts.Concurrency, orderedLoose, func(key string) error {
		return p.fetchObject(ctx, store.KindData, key, false, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.LooseFetched = n

	// Phase 3c: patch bodies.
	patchKeys := keySet{}
	for _, pb := range parsedBuilds {
		if pb.pc == nil {
			continue
		}
		for _, e := range pb.pc.Entries {
			if !p.store.HasPatch(e.PatchKey) {
				patchKeys.add(e.PatchKey)
			}
		}
	}
	n, err = p.downloadBulk(ctx, opts.Concurrency, patchKeys.slice(), func(key string) error {
		return p.fetchObject(ctx, store.KindPatch, key, false, false)
	}, report)
	if err != nil {
		return report, err
	}
	report.PatchesFetched = n

	return report, nil
}

// downloadBulk runs fn over keys with bounded concurrency, collecting
// NetworkError as warnings (the plan continues) while any other error
// (integrity, parse) aborts the whole phase. Each goroutine writes only
// to its own slot in fetched/warnings; the shared report is assembled
// from those slots after g.Wait() returns, so no goroutine ever touches
// report.Warnings concurrently.
func (p *Planner) downloadBulk(ctx context.Context, concurrency int, keys []string, fn func(key string) error, report *Report) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	fetched := make([]bool, len(keys))
	warnings := make([]string, len(keys))
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := fn(key); err != nil {
				if _, ok := cdn.AsNetworkError(err); ok {
					p.log().Warn("skipping object after network failure", "key", key, "error", err)
					warnings[i] = fmt.Sprintf("%s: %v", key, err)
					return nil
				}
				return err
			}
			fetched[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for i, ok := range fetched {
		if ok {
			n++
		} else if warnings[i] != "" {
			report.Warnings = append(report.Warnings, warnings[i])
		}
	}
	return n, nil
}

func (p *Planner) readEncoding(encodedKey string) (*encoding.File, error) {
	data, err := p.readDataObjectDecoded(encodedKey)
	if err != nil {
		return nil, err
	}
	return encoding.Parse(data)
}

func (p *Planner) readDownload(key string) (*manifest.Download, error) {
	data, err := p.readDataObjectDecoded(key)
	if err != nil {
		return nil, err
	}
	return manifest.ParseDownload(data)
}

func (p *Planner) readPatchManifest(key string) (*manifest.PatchManifest, error) {
	data, err := p.readDataObjectDecoded(key)
	if err != nil {
		return nil, err
	}
	return manifest.ParsePatchManifest(data)
}

func (p *Planner) readRoot(key string) (*manifest.Root, error) {
	data, err := p.readDataObjectDecoded(key)
	if err != nil {
		return nil, err
	}
	return manifest.ParseRoot(data)
}

// checkRootResolvable warns about root content keys the encoding file
// cannot resolve to an encoded key: such a key can never be fetched,
// since every download path goes through encoding to find the on-disk
// identity of a content key.
func (p *Planner) checkRootResolvable(build BuildKey, root *manifest.Root, enc *encoding.File) {
	for _, key := range root.ContentKeys() {
		if _, _, ok := enc.Lookup(key); !ok {
			p.log().Warn("root content key not resolvable via encoding", "build", build, "key", fmt.Sprintf("%x", key))
		}
	}
}

// crossCheckPatchManifest warns about patch manifest pairs with no
// matching patch-config triple: the manifest names an (old, new) content
// key transform, but without a patch-config entry there is no key to
// fetch the patch body under, so that pair's patch can never be
// catalogued with a body.
func (p *Planner) crossCheckPatchManifest(build BuildKey, pm *manifest.PatchManifest, pc *config.PatchConfig) {
	if pc == nil {
		if len(pm.Entries) > 0 {
			p.log().Warn("patch manifest has entries but build has no patch-config", "build", build)
		}
		return
	}
	have := make(map[string]bool, len(pc.Entries))
	for _, e := range pc.Entries {
		have[e.OldKey+":"+e.NewKey] = true
	}
	for _, e := range pm.Entries {
		oldHex := fmt.Sprintf("%x", e.OldContentKey)
		newHex := fmt.Sprintf("%x", e.NewContentKey)
		if !have[oldHex+":"+newHex] {
			p.log().Warn("patch manifest pair has no patch-config entry", "build", build, "old", oldHex, "new", newHex)
		}
	}
}
