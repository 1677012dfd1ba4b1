// Package source classifies the firmware reference given on the command line.
//
// A reference is one of a closed set of variants: a release tag, a CI run or
// artifact, the local build output or the "skip" sentinel. Classification is
// pure and total: every input yields exactly one variant or a
// *ReferenceParseError.
package source

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// SkipToken tells the tool not to flash any firmware binaries.
	SkipToken = "-"
	// BuildToken selects the output of the local build directory.
	BuildToken = "build"
)

// Source is a firmware source. The set of implementations is closed.
type Source interface {
	// CacheKey is the directory name under the releases directory, or ""
	// for sources that are not cached.
	CacheKey() string
	String() string
	isSource()
}

// ReleaseTag is a tagged GitHub release.
type ReleaseTag struct {
	Version string
}

// ActionsArtifact is a CI artifact addressed by its run and, optionally,
// its own artifact id.
type ActionsArtifact struct {
	RunID      string
	ArtifactID string
}

// LocalBuild is the local build output directory.
type LocalBuild struct{}

// Skip means no firmware binaries are involved.
type Skip struct{}

func (r ReleaseTag) CacheKey() string { return r.Version }
func (r ReleaseTag) String() string   { return "release " + r.Version }
func (ReleaseTag) isSource()          {}

func (a ActionsArtifact) CacheKey() string {
	if a.ArtifactID != "" {
		return a.ArtifactID
	}
	return a.RunID
}

func (a ActionsArtifact) String() string {
	if a.ArtifactID != "" {
		return fmt.Sprintf("artifact %s (run %s)", a.ArtifactID, a.RunID)
	}
	return "run " + a.RunID
}
func (ActionsArtifact) isSource() {}

func (LocalBuild) CacheKey() string { return "" }
func (LocalBuild) String() string   { return "local build" }
func (LocalBuild) isSource()        {}

func (Skip) CacheKey() string { return "" }
func (Skip) String() string   { return "skip" }
func (Skip) isSource()        {}

// IsRemote reports whether src has to be fetched into the cache.
func IsRemote(src Source) bool {
	switch src.(type) {
	case ReleaseTag, ActionsArtifact:
		return true
	default:
		return false
	}
}

// ParseErrorKind tells why a reference was rejected.
type ParseErrorKind int

const (
	// InvalidReference is a URL that matches none of the known CI shapes.
	InvalidReference ParseErrorKind = iota
	// EmptyReference is an empty or blank reference.
	EmptyReference
	// InvalidTag is a release tag that cannot name a cache directory.
	InvalidTag
)

// ReferenceParseError is returned for references of unrecognised shape.
type ReferenceParseError struct {
	Ref  string
	Kind ParseErrorKind
}

func (e *ReferenceParseError) Error() string {
	switch e.Kind {
	case EmptyReference:
		return "firmware reference is empty"
	case InvalidTag:
		return fmt.Sprintf("invalid release tag: %q", e.Ref)
	default:
		return fmt.Sprintf("invalid URL: %s", e.Ref)
	}
}

var digitsRe = regexp.MustCompile(`^\d+$`)

// Classifier classifies references for one GitHub repository.
type Classifier struct {
	artifactRe *regexp.Regexp
	runRe      *regexp.Regexp
}

// NewClassifier builds a classifier for repo ("owner/name") hosted at webBase
// (for example "https://github.com").
func NewClassifier(webBase, repo string) *Classifier {
	prefix := "^" + regexp.QuoteMeta(strings.TrimSuffix(webBase, "/")+"/"+repo) + `/actions/runs/(\d+)`
	return &Classifier{
		artifactRe: regexp.MustCompile(prefix + `/artifacts/(\d+)$`),
		runRe:      regexp.MustCompile(prefix + `$`),
	}
}

// Classify maps ref to exactly one Source. The rules are applied in order:
// sentinels, artifact URL, run URL, other URLs (rejected), all-digit run id,
// release tag.
func (c *Classifier) Classify(ref string) (Source, error) {
	ref = strings.TrimSpace(ref)
	switch ref {
	case "":
		return nil, &ReferenceParseError{Ref: ref, Kind: EmptyReference}
	case SkipToken:
		return Skip{}, nil
	case BuildToken:
		return LocalBuild{}, nil
	}

	if m := c.artifactRe.FindStringSubmatch(ref); m != nil {
		return ActionsArtifact{RunID: m[1], ArtifactID: m[2]}, nil
	}
	if m := c.runRe.FindStringSubmatch(ref); m != nil {
		return ActionsArtifact{RunID: m[1]}, nil
	}
	if isURL(ref) {
		return nil, &ReferenceParseError{Ref: ref, Kind: InvalidReference}
	}
	if digitsRe.MatchString(ref) {
		return ActionsArtifact{RunID: ref}, nil
	}
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") || strings.HasPrefix(ref, ".") {
		return nil, &ReferenceParseError{Ref: ref, Kind: InvalidTag}
	}
	return ReleaseTag{Version: ref}, nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") || strings.Contains(s, "://")
}
