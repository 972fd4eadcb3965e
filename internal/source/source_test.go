package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
)

func swapBase(t *testing.T, base *string, url string) {
	t.Helper()
	old := *base
	*base = url
	t.Cleanup(func() { *base = old })
}

func TestRegistry_CoversEveryChannel(t *testing.T) {
	reg := Registry()
	for _, ch := range []model.Channel{
		model.ChannelGitHub, model.ChannelHackerNews, model.ChannelProductHunt,
		model.ChannelHuggingFace, model.ChannelArxiv, model.ChannelRSS, model.ChannelYC,
	} {
		require.Contains(t, reg, ch)
	}
}

func TestGitHub_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("q"), "stars:>25")
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"items":[{
			"full_name":"acme/copilot","html_url":"https://github.com/acme/copilot",
			"homepage":"https://acme.example","description":"Compliance copilot",
			"stargazers_count":412,"forks_count":31,"open_issues_count":7,
			"language":"Go","owner":{"login":"acme"}
		}]}`)
	}))
	defer srv.Close()
	swapBase(t, &githubAPIBase, srv.URL)

	records, err := NewGitHub("tok", srv.Client()).Fetch(context.Background(), time.Now().AddDate(0, 0, -7), 20)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, model.ChannelGitHub, rec.Channel)
	assert.Equal(t, "acme/copilot", rec.ExternalID)
	assert.Equal(t, "https://acme.example", rec.URL)
	assert.Equal(t, "https://github.com/acme/copilot", rec.ProfileURL)
	assert.Equal(t, "Go", rec.Text["language"])
	assert.Equal(t, 412.0, rec.Numeric["stars"])
}

func TestGitHub_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	swapBase(t, &githubAPIBase, srv.URL)

	_, err := NewGitHub("", srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGitHub_BadJSONIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [`)
	}))
	defer srv.Close()
	swapBase(t, &githubAPIBase, srv.URL)

	_, err := NewGitHub("", srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHackerNews_FetchFiltersBySince(t *testing.T) {
	fresh := time.Now().UTC().Add(-time.Hour).Unix()
	stale := time.Now().UTC().AddDate(0, 0, -30).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/showstories.json":
			fmt.Fprint(w, `[101,102]`)
		case "/item/101.json":
			fmt.Fprintf(w, `{"id":101,"title":"Show HN: Acme – SOC 2 in a box","url":"https://acme.example","score":120,"by":"pg","time":%d}`, fresh)
		case "/item/102.json":
			fmt.Fprintf(w, `{"id":102,"title":"Show HN: Stale thing","score":10,"by":"pg","time":%d}`, stale)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	swapBase(t, &hnAPIBase, srv.URL)

	since := time.Now().UTC().AddDate(0, 0, -1)
	records, err := NewHackerNews(srv.Client()).Fetch(context.Background(), since, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "101", records[0].ExternalID)
	assert.Equal(t, "Acme", records[0].Name)
	assert.Equal(t, 120.0, records[0].Numeric["points"])
}

func TestStripShowHN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Show HN: Acme – SOC 2 in a box", "Acme"},
		{"Show HN: Acme - agent infra", "Acme"},
		{"Show HN: Acme", "Acme"},
		{"Acme: the compliance copilot", "Acme"},
		{"Plain title", "Plain title"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripShowHN(tt.in), tt.in)
	}
}

func TestProductHunt_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"posts":{"edges":[{"node":{
			"id":"ph-1","name":"Acme","tagline":"Compliance copilot",
			"votesCount":321,"website":"https://acme.example",
			"url":"https://www.producthunt.com/posts/acme"
		}}]}}}`)
	}))
	defer srv.Close()
	swapBase(t, &productHuntAPIBase, srv.URL)

	records, err := NewProductHunt("tok", srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ph-1", records[0].ExternalID)
	assert.Equal(t, "https://www.producthunt.com/posts/acme", records[0].ProfileURL)
	assert.Equal(t, 321.0, records[0].Numeric["votes"])
}

func TestProductHunt_GraphQLErrorIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"rate limit exceeded"}]}`)
	}))
	defer srv.Close()
	swapBase(t, &productHuntAPIBase, srv.URL)

	_, err := NewProductHunt("tok", srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHuggingFace_GroupsByOrg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":"acme/guard-7b","likes":900,"downloads":120000,"pipeline_tag":"text-generation"},
			{"id":"standalone-model","likes":5,"downloads":10}
		]`)
	}))
	defer srv.Close()
	swapBase(t, &huggingFaceAPIBase, srv.URL)

	records, err := NewHuggingFace(srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "acme", records[0].Name)
	assert.Equal(t, "https://huggingface.co/acme", records[0].ProfileURL)
	assert.Contains(t, records[0].Description, "guard-7b")
}

func TestArxiv_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2608.01234v2</id>
    <title>Efficient   Agent
 Serving</title>
    <summary> We present a system. </summary>
    <published>2026-08-20T00:00:00Z</published>
    <author><name>A. Researcher</name></author>
    <author><name>B. Builder</name></author>
  </entry>
</feed>`)
	}))
	defer srv.Close()
	swapBase(t, &arxivAPIBase, srv.URL)

	records, err := NewArxiv(srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "2608.01234", rec.ExternalID)
	assert.Equal(t, "Efficient Agent Serving", rec.Name)
	assert.Equal(t, "https://arxiv.org/abs/2608.01234", rec.ProfileURL)
	assert.Equal(t, "A. Researcher, B. Builder", rec.Text["authors"])
}

func TestExtractArxivID(t *testing.T) {
	assert.Equal(t, "2608.01234", extractArxivID("http://arxiv.org/abs/2608.01234v12"))
	assert.Equal(t, "2608.01234", extractArxivID("http://arxiv.org/abs/2608.01234"))
	assert.Equal(t, "", extractArxivID("http://arxiv.org/nothing"))
}

func TestYC_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batches/latest.json", r.URL.Path)
		fmt.Fprint(w, `[{
			"id":7,"name":"Acme","slug":"acme","website":"https://acme.example",
			"one_liner":"Compliance copilot","batch":"Summer 2026","team_size":4,
			"tags":["AI","Fintech"]
		}]`)
	}))
	defer srv.Close()
	swapBase(t, &ycAPIBase, srv.URL)

	records, err := NewYC(srv.Client()).Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "7", rec.ExternalID)
	assert.Equal(t, "https://www.ycombinator.com/companies/acme", rec.ProfileURL)
	assert.Equal(t, "Summer 2026", rec.Text["batch"])
	assert.Equal(t, 4.0, rec.Numeric["team_size"])
}

func TestRSS_OneDeadFeedDoesNotFailBatch(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss><channel>
  <item>
    <title>Acme launches compliance copilot</title>
    <link>https://news.example/acme</link>
    <guid>acme-launch</guid>
    <description>Seed round</description>
    <pubDate>`+time.Now().UTC().Format(time.RFC1123Z)+`</pubDate>
  </item>
</channel></rss>`)
	}))
	defer good.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	rss := NewRSS([]string{dead.URL, good.URL}, good.Client())
	records, err := rss.Fetch(context.Background(), time.Now().AddDate(0, 0, -1), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "acme-launch", records[0].ExternalID)
}

func TestRSS_AllFeedsDownFails(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	_, err := NewRSS([]string{dead.URL}, dead.Client()).Fetch(context.Background(), time.Time{}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRSS_NoFeedsConfigured(t *testing.T) {
	records, err := NewRSS(nil, http.DefaultClient).Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRSSDate(t *testing.T) {
	for _, s := range []string{
		"Mon, 24 Aug 2026 10:30:00 +0000",
		"Mon, 24 Aug 2026 10:30:00 UTC",
		"2026-08-24T10:30:00Z",
	} {
		_, err := parseRSSDate(s)
		assert.NoError(t, err, s)
	}
	_, err := parseRSSDate("yesterday")
	assert.Error(t, err)
}
