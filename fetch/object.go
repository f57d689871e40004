package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ngdp/keg/archive"
	"github.com/ngdp/keg/blte"
	"github.com/ngdp/keg/cdn"
	"github.com/ngdp/keg/config"
	"github.com/ngdp/keg/store"
)

// fetchObject downloads one object (or index) by key into the store,
// collapsing concurrent callers requesting the same key via singleflight
// so each key is fetched at most once per plan.
func (p *Planner) fetchObject(ctx context.Context, kind store.Kind, key string, isIndex, blteFramed bool) error {
	sfKey := fmt.Sprintf("%d:%s:%v", kind, key, isIndex)
	_, err, _ := p.group.Do(sfKey, func() (any, error) {
		objKind := cdn.ObjectConfig
		switch kind {
		case store.KindData:
			objKind = cdn.ObjectData
		case store.KindPatch:
			objKind = cdn.ObjectPatch
		}

		body, err := p.cdn.FetchObject(ctx, p.selected.BaseURL, p.selected.Path, objKind, key, isIndex)
		if err != nil {
			return nil, err
		}
		writeErr := p.store.Write(kind, key, bytes.NewReader(body), store.WriteOptions{
			BLTEFramed: blteFramed,
			IsIndex:    isIndex,
		})
		return nil, writeErr
	})
	return err
}

// readCDNConfig opens and parses a locally-stored cdn-config object.
func (p *Planner) readCDNConfig(key string) (*config.CDNConfig, error) {
	f, err := p.openConfig(key)
	if err != nil {
		return nil, err
	}
	return config.ParseCDNConfig(f)
}

// readBuildConfig opens and parses a locally-stored build-config object.
func (p *Planner) readBuildConfig(key string) (*config.BuildConfig, error) {
	f, err := p.openConfig(key)
	if err != nil {
		return nil, err
	}
	return config.ParseBuildConfig(f)
}

// readPatchConfig opens and parses a locally-stored patch-config object.
func (p *Planner) readPatchConfig(key string) (*config.PatchConfig, error) {
	f, err := p.openConfig(key)
	if err != nil {
		return nil, err
	}
	return config.ParsePatchConfig(f)
}

func (p *Planner) openConfig(key string) (*config.File, error) {
	rc, err := p.store.OpenObject(store.KindConfig, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return config.Parse(rc)
}

// readDataObjectDecoded opens a locally-stored data object keyed by its
// encoded key, BLTE-decoding it if it carries the BLTE envelope.
func (p *Planner) readDataObjectDecoded(encodedKey string) ([]byte, error) {
	rc, err := p.store.OpenObject(store.KindData, encodedKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return blte.DecodeIfFramed(raw)
}

// synthesizeGroup builds the merged archive-group view for a cdn-config,
// preferring a standalone group-index object if present on disk.
func (p *Planner) synthesizeGroup(cc *config.CDNConfig) (*archive.Group, error) {
	if cc.ArchiveGroup != "" && p.store.HasIndex(cc.ArchiveGroup) {
		f, err := p.store.OpenIndex(store.KindData, cc.ArchiveGroup)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return archive.ParseGroup(data, cc.ArchiveGroup, cc.Archives)
	}

	indices := make([]*archive.Index, 0, len(cc.Archives))
	for _, a := range cc.Archives {
		f, err := p.store.OpenIndex(store.KindData, a)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		idx, err := archive.Parse(data, a)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return archive.Synthesize(cc.ArchiveGroup, cc.Archives, indices), nil
}
