package keg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ngdp/keg/archive"
	"github.com/ngdp/keg/blte"
	"github.com/ngdp/keg/config"
	"github.com/ngdp/keg/encoding"
	"github.com/ngdp/keg/manifest"
	"github.com/ngdp/keg/store"
)

// InstallOptions controls a Client.Install call.
type InstallOptions struct {
	// Tags filters the install manifest to entries carrying every one of
	// these tags. No tags means every entry.
	Tags []string
}

// InstallReport summarizes what Install materialized.
type InstallReport struct {
	Installed int
	Skipped   int     // already materialized at the target path
	Conflicts []error // each wraps ErrConflict, naming the filename kept over
}

// Install materializes a build's install-file entries under destDir.
//
// For each (filename, content_key, size): resolve content_key to its
// encoded key via the encoding file; if the target path already exists,
// refuse to overwrite it; otherwise read the encoded object (a loose
// object if present, else extracted from the archive group) and, if
// BLTE-framed, decode it into place. Duplicate filenames that resolve to
// the same content key are silently deduplicated; duplicates resolving to
// different keys emit a conflict and keep only the first.
func (c *Client) Install(ctx context.Context, bc *config.BuildConfig, cc *config.CDNConfig, destDir string, opts InstallOptions) (*InstallReport, error) {
	enc, err := c.readEncodingFile(bc.EncodingEncodedKey)
	if err != nil {
		return nil, fmt.Errorf("keg: install: reading encoding file: %w", err)
	}
	install, err := c.readInstallFile(bc.InstallKey)
	if err != nil {
		return nil, fmt.Errorf("keg: install: reading install file: %w", err)
	}
	group, err := c.synthesizeGroup(cc)
	if err != nil {
		return nil, fmt.Errorf("keg: install: synthesizing archive group: %w", err)
	}

	report := &InstallReport{}
	claimed := map[string][16]byte{} // filename -> content key of the entry kept

	var entries []manifest.InstallEntry
	if len(opts.Tags) == 0 {
		for e := range install.All() {
			entries = append(entries, e)
		}
	} else {
		for e := range install.FilterByTags(opts.Tags...) {
			entries = append(entries, e)
		}
	}

	// pending entries waiting on an archive extraction, grouped by
	// archive key so each archive is opened and scanned once regardless
	// of how many of its entries this install needs.
	type pending struct {
		target        string
		encodedKeyHex string
		size          uint32
		offset        uint32
	}
	byArchive := map[string][]pending{}

	for _, entry := range entries {
		if prior, ok := claimed[entry.Filename]; ok {
			if prior != entry.ContentKey {
				report.Conflicts = append(report.Conflicts, fmt.Errorf("%w: %s", ErrConflict, entry.Filename))
				c.log().Warn("install conflict: keeping first entry", "filename", entry.Filename)
			}
			continue
		}
		claimed[entry.Filename] = entry.ContentKey

		target := filepath.Join(destDir, filepath.FromSlash(entry.Filename))
		if _, err := os.Stat(target); err == nil {
			report.Skipped++
			continue
		}

		encodedKey, _, ok := enc.Lookup(entry.ContentKey)
		if !ok {
			return report, fmt.Errorf("keg: install: %s: content key %x not resolvable via encoding", entry.Filename, entry.ContentKey)
		}
		encodedKeyHex := fmt.Sprintf("%x", encodedKey)

		if c.store.HasData(encodedKeyHex) {
			data, err := c.readLooseDecoded(encodedKeyHex)
			if err != nil {
				return report, fmt.Errorf("keg: install: %s: %w", entry.Filename, err)
			}
			if err := writeInstalled(target, data); err != nil {
				return report, fmt.Errorf("keg: install: %s: %w", entry.Filename, err)
			}
			report.Installed++
			continue
		}

		archiveKey, size, offset, ok := group.Lookup(encodedKeyHex)
		if !ok {
			return report, fmt.Errorf("keg: install: %s: %w: %s not found loose or in archive group", entry.Filename, ErrNotFound, encodedKeyHex)
		}
		byArchive[archiveKey] = append(byArchive[archiveKey], pending{target: target, encodedKeyHex: encodedKeyHex, size: size, offset: offset})
	}

	// Entries sharing an archive are extracted together: one ReadAt per
	// contiguous range instead of one per entry, via archive.ExtractBatch.
	for archiveKey, pendings := range byArchive {
		f, err := c.store.OpenObject(store.KindData, archiveKey)
		if err != nil {
			return report, fmt.Errorf("keg: install: opening archive %s: %w", archiveKey, err)
		}

		batchEntries := make([]archive.BatchEntry[int], len(pendings))
		for i, p := range pendings {
			batchEntries[i] = archive.BatchEntry[int]{KeyHex: p.encodedKeyHex, Size: p.size, Offset: p.offset, Label: i}
		}
		results, err := archive.ExtractBatch(f, batchEntries)
		f.Close()
		if err != nil {
			return report, fmt.Errorf("keg: install: extracting from archive %s: %w", archiveKey, err)
		}

		for _, res := range results {
			p := pendings[res.Label]
			data, err := blte.DecodeIfFramed(res.Data)
			if err != nil {
				return report, fmt.Errorf("keg: install: %s: %w", p.target, err)
			}
			if err := writeInstalled(p.target, data); err != nil {
				return report, fmt.Errorf("keg: install: %s: %w", p.target, err)
			}
			report.Installed++
		}
	}

	return report, nil
}

// writeInstalled writes data to target, creating parent directories as
// needed.
func writeInstalled(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

// readLooseDecoded reads a loose data object, BLTE-decoding it if it
// carries the envelope.
func (c *Client) readLooseDecoded(encodedKeyHex string) ([]byte, error) {
	f, err := c.store.OpenObject(store.KindData, encodedKeyHex)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return blte.DecodeIfFramed(raw)
}

func (c *Client) readEncodingFile(encodedKey string) (*encoding.File, error) {
	f, err := c.store.OpenObject(store.KindData, encodedKey)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	raw, err = blte.DecodeIfFramed(raw)
	if err != nil {
		return nil, err
	}
	return encoding.Parse(raw)
}

func (c *Client) readInstallFile(key string) (*manifest.Install, error) {
	f, err := c.store.OpenObject(store.KindData, key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	raw, err = blte.DecodeIfFramed(raw)
	if err != nil {
		return nil, err
	}
	return manifest.ParseInstall(raw)
}

func (c *Client) synthesizeGroup(cc *config.CDNConfig) (*archive.Group, error) {
	if cc.ArchiveGroup != "" && c.store.HasIndex(cc.ArchiveGroup) {
		f, err := c.store.OpenIndex(store.KindData, cc.ArchiveGroup)
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
		f, err := c.store.OpenIndex(store.KindData, a)
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
