package pipeline

import (
	"go.uber.org/zap"

	"convoy/internal/manifest"
)

var (
	DefaultMinifyPatterns = []string{"*.css", "*.js"}
	DefaultGzipPatterns   = []string{"*.css", "*.js"}
)

type StandardOptions struct {
	// FingerprintPatterns limits fingerprinting; empty fingerprints everything.
	FingerprintPatterns []string
	// RewritePatterns selects stylesheets whose url() references are
	// fingerprinted; empty means DefaultRewritePatterns.
	RewritePatterns []string
	MinifyPatterns  []string
	GzipPatterns    []string
	UseExistingMin  bool
	Minifier        Minifier
	ManifestName    string
	ManifestVersion string
	Logger          *zap.Logger
}

// StandardStages returns fingerprint, minify, gzip and manifest, in that order.
// Minify reads canonical fingerprinted content, gzip must be the last content
// transform, and the manifest only persists what came before it.
func StandardStages(o StandardOptions) []Stage {
	if o.ManifestName == "" {
		o.ManifestName = manifest.DefaultName
	}
	if len(o.RewritePatterns) == 0 {
		o.RewritePatterns = DefaultRewritePatterns
	}
	if len(o.MinifyPatterns) == 0 {
		o.MinifyPatterns = DefaultMinifyPatterns
	}
	if len(o.GzipPatterns) == 0 {
		o.GzipPatterns = DefaultGzipPatterns
	}
	if o.Minifier == nil {
		o.Minifier = NewWebMinifier()
	}
	return []Stage{
		&FingerprintStage{
			Patterns:        o.FingerprintPatterns,
			Exclude:         []string{o.ManifestName},
			RewritePatterns: o.RewritePatterns,
		},
		&MinifyStage{Patterns: o.MinifyPatterns, Minifier: o.Minifier, UseExisting: o.UseExistingMin, Logger: o.Logger},
		&GzipStage{Patterns: o.GzipPatterns},
		&ManifestStage{BlobName: o.ManifestName, Version: o.ManifestVersion},
	}
}
