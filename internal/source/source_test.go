package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const repoURL = "https://github.com/ruuvi/ruuvi.gateway_esp.c"

func newTestClassifier() *Classifier {
	return NewClassifier("https://github.com", "ruuvi/ruuvi.gateway_esp.c")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want Source
	}{
		{"skip", "-", Skip{}},
		{"build", "build", LocalBuild{}},
		{"release tag", "v1.15.0", ReleaseTag{Version: "v1.15.0"}},
		{"release tag with spaces", "  v1.9.2 ", ReleaseTag{Version: "v1.9.2"}},
		{"bare run id", "8187982688", ActionsArtifact{RunID: "8187982688"}},
		{"run url", repoURL + "/actions/runs/8187982688", ActionsArtifact{RunID: "8187982688"}},
		{
			"artifact url",
			repoURL + "/actions/runs/8187982688/artifacts/1305715066",
			ActionsArtifact{RunID: "8187982688", ArtifactID: "1305715066"},
		},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.ref)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyRejects(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		kind ParseErrorKind
	}{
		{"empty", "", EmptyReference},
		{"blank", "   ", EmptyReference},
		{"other repo", "https://github.com/someone/else/actions/runs/123", InvalidReference},
		{"run url with trailing path", repoURL + "/actions/runs/123/jobs/4", InvalidReference},
		{"non numeric run", repoURL + "/actions/runs/abc", InvalidReference},
		{"plain http", "http://example.com/fw.bin", InvalidReference},
		{"tag with slash", "v1/../../etc", InvalidTag},
		{"dot tag", "..", InvalidTag},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.ref)
			require.Nil(t, got)
			var perr *ReferenceParseError
			require.True(t, errors.As(err, &perr), "want *ReferenceParseError, got %v", err)
			require.Equal(t, tt.kind, perr.Kind)
		})
	}
}

func TestClassifyExtractsDigitsAfterRunsSegment(t *testing.T) {
	c := newTestClassifier()
	for _, run := range []string{"1", "42", "8187982688", "000123"} {
		src, err := c.Classify(repoURL + "/actions/runs/" + run)
		require.NoError(t, err)
		require.Equal(t, run, src.(ActionsArtifact).RunID)

		src, err = c.Classify(repoURL + "/actions/runs/" + run + "/artifacts/77" + run)
		require.NoError(t, err)
		require.Equal(t, "77"+run, src.(ActionsArtifact).ArtifactID)
		require.Equal(t, run, src.(ActionsArtifact).RunID)
	}
}

func TestCacheKey(t *testing.T) {
	require.Equal(t, "v1.15.0", ReleaseTag{Version: "v1.15.0"}.CacheKey())
	require.Equal(t, "11", ActionsArtifact{RunID: "10", ArtifactID: "11"}.CacheKey())
	require.Equal(t, "10", ActionsArtifact{RunID: "10"}.CacheKey())
	require.Empty(t, LocalBuild{}.CacheKey())
	require.Empty(t, Skip{}.CacheKey())

	require.True(t, IsRemote(ReleaseTag{Version: "v1"}))
	require.True(t, IsRemote(ActionsArtifact{RunID: "1"}))
	require.False(t, IsRemote(LocalBuild{}))
	require.False(t, IsRemote(Skip{}))
}

func TestClassifierCustomRepo(t *testing.T) {
	c := NewClassifier("https://ghe.example.com/", "acme/fw")
	src, err := c.Classify("https://ghe.example.com/acme/fw/actions/runs/5")
	require.NoError(t, err)
	require.Equal(t, ActionsArtifact{RunID: "5"}, src)

	_, err = c.Classify(repoURL + "/actions/runs/5")
	require.Error(t, err)
}
