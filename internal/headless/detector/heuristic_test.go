package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body><div id="__next"></div>` + strings.Repeat("<p>copy</p>", 50) + `</body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_JavaScriptRequired(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`<noscript>Please Enable JavaScript to view this site.</noscript>` + strings.Repeat("x", 500)),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_PlainContentStaysFast(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.Equal(t, 2048, h.BodyLengthThreshold)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(`<html><body><h1>Oak Street Vet</h1><p>Call (555) 123-4567</p></body></html>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusNotFound,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SkipsNonHTML(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"application/pdf"}},
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestScriptDensityUnterminatedTag(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh([]byte(`<p>a</p><script src="x"`)))
	require.False(t, scriptDensityHigh([]byte(`<p>no scripts here</p>`)))
	require.False(t, scriptDensityHigh(nil))
}
