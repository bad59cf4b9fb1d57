// Package source locates the per-session imaging files a review needs.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/models"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
)

// Resolver maps a queue record to the files backing each reviewable item.
type Resolver interface {
	// Resolve returns item -> absolute path. A path may be empty only for
	// items the record legitimately lacks (a T1-only session has no
	// t2_average); any other unresolvable item yields ErrSourceMissing.
	Resolve(ctx context.Context, rec *models.DerivedImage) (map[string]string, error)
}

// candidate describes where an item's file may live relative to the session
// directory. Regions moved between segmentation folders over the life of the
// pipeline, so several directories are probed in order.
type candidate struct {
	dirs  []string
	files []string
}

var defaultCandidates = map[string]candidate{
	"t1_average": {
		dirs:  []string{"TissueClassify"},
		files: []string{"t1_average_BRAINSABC.nii.gz"},
	},
	"t2_average": {
		dirs:  []string{"TissueClassify"},
		files: []string{"t2_average_BRAINSABC.nii.gz"},
	},
	"labels_tissue": {
		dirs:  []string{"TissueClassify"},
		files: []string{"fixed_brainlabels_seg.nii.gz", "brain_label_seg.nii.gz"},
	},
}

var regionDirs = []string{"CleanedDenoisedRFSegmentations", "DenoisedRFSegmentations"}

// optionalItems may resolve to no file without failing the record.
var optionalItems = map[string]bool{"t2_average": true}

// FilesystemResolver probes the shared filesystem the processing pipeline
// writes to.
type FilesystemResolver struct {
	logger *zap.Logger
	// stat is swappable for tests.
	stat func(string) error
}

// NewFilesystemResolver builds a resolver.
func NewFilesystemResolver(logger *zap.Logger) *FilesystemResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemResolver{
		logger: logger,
		stat: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Resolve implements Resolver.
func (r *FilesystemResolver) Resolve(ctx context.Context, rec *models.DerivedImage) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(rec.BaseDir()...)
	found := make(map[string]string, len(models.ReviewItems()))

	for _, item := range models.ReviewItems() {
		path := r.locate(base, item)
		if path == "" && !optionalItems[item] {
			r.logger.Sugar().Infow("source file not found, skipping session",
				"record_id", rec.RecordID, "session", rec.Session, "item", item)
			return nil, appErrors.Wrap(
				fmt.Errorf("no file for %s under %s", item, base),
				appErrors.ErrSourceMissing.Code, appErrors.ErrSourceMissing.Status, appErrors.ErrSourceMissing.Message)
		}
		found[item] = path
	}
	return found, nil
}

func (r *FilesystemResolver) locate(base, item string) string {
	spec, ok := defaultCandidates[item]
	if !ok {
		spec = candidate{dirs: regionDirs, files: regionFileNames(item)}
	}
	for _, dir := range spec.dirs {
		for _, file := range spec.files {
			path := filepath.Join(base, dir, file)
			if r.stat(path) == nil {
				return path
			}
		}
	}
	return ""
}

// regionFileNames derives the segmentation filenames tried for a bilateral
// region like "caudate_left": the side-letter prefix form and the combined
// all_Labels output.
func regionFileNames(item string) []string {
	region, side, ok := splitRegion(item)
	if !ok {
		return []string{item + "_seg.nii.gz"}
	}
	return []string{
		fmt.Sprintf("%c_%s_seg.nii.gz", side[0], region),
		"all_Labels_seg.nii.gz",
	}
}

func splitRegion(item string) (region, side string, ok bool) {
	for i := len(item) - 1; i > 0; i-- {
		if item[i] == '_' {
			region, side = item[:i], item[i+1:]
			return region, side, side == "left" || side == "right"
		}
	}
	return "", "", false
}
