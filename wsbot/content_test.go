package wsbot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contentServer serves canned JSON bodies by path and records the
// requests it receives
type contentServer struct {
	mu       sync.Mutex
	requests []*http.Request
	status   int
	bodies   map[string]string
}

func (s *contentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	status := s.status
	body, ok := s.bodies[r.URL.Path]
	s.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if !ok {
		status = http.StatusNotFound
		body = `{"error":"no route"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *contentServer) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *contentServer) lastQuery(t testing.TB) url.Values {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1].URL.Query()
}

func newTestContentClient(t testing.TB, bodies map[string]string) (*contentClient, *contentServer) {
	t.Helper()
	srv := &contentServer{bodies: bodies}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := newContentClient(
		&ContentAPIConfig{
			URL:                  ts.URL + "/",
			PrayerTimesURL:       ts.URL,
			Timeout:              5 * time.Second,
			MaxRequestsPerSecond: 100,
		},
		nil,
	)
	return client, srv
}

func TestContentClient_QueryQuran(t *testing.T) {
	t.Parallel()
	client, srv := newTestContentClient(
		t,
		map[string]string{
			"/quran": `{
				"type": "verse",
				"data": [{"verse_id": "1:1", "chapter_number": 1, "ws_quran_text": {"english": "In the name of GOD"}}],
				"metadata": {"formattedChapterTitle": "Sura 1, The Key", "formattedBookTitle": "Quran: The Final Testament"},
				"totalMatches": 1
			}`,
		},
	)

	resp, err := client.QueryQuran(
		context.Background(),
		"1:1",
		QuranQueryOptions{
			SearchOptions:     SearchOptions{Strict: true},
			Language:          languageTurkish,
			IncludeWordByWord: true,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, quranResultVerse, resp.Type)
	assert.Equal(t, "Sura 1, The Key", resp.Metadata.FormattedChapterTitle)
	assert.Equal(t, 1, resp.TotalMatches)

	verses, err := resp.Verses()
	require.NoError(t, err)
	require.Len(t, verses, 1)
	assert.Equal(t, "In the name of GOD", verses[0].Text[languageEnglish])

	q := srv.lastQuery(t)
	assert.Equal(t, "1:1", q.Get("q"))
	assert.Equal(t, "true", q.Get("highlight"))
	assert.Equal(t, searchStrategyStrict, q.Get("strategy"))
	assert.Equal(t, languageTurkish, q.Get("language"))
	assert.Equal(t, "true", q.Get("include_word_by_word"))
}

func TestContentClient_SearchHits(t *testing.T) {
	t.Parallel()
	client, _ := newTestContentClient(
		t,
		map[string]string{
			"/quran": `{
				"type": "search",
				"data": [
					{"hit": "text", "verse_id": "2:1", "chapter_number": 2, "english": "A.L.M."},
					{"hit": "chapter", "chapter_number": 3, "title_english": "The Amramites"}
				],
				"totalMatches": 2
			}`,
		},
	)

	resp, err := client.QueryQuran(context.Background(), "alm", QuranQueryOptions{})
	require.NoError(t, err)
	hits, err := resp.Hits()
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "2:1", hits[0].VerseID)
	assert.Equal(t, 2, hits[0].ChapterNumber)
	assert.Equal(t, "A.L.M.", hits[0].Field(languageEnglish))
	assert.Equal(t, 3, hits[1].ChapterNumber)
	assert.Equal(t, "The Amramites", hits[1].Field("title_english"))
}

func TestContentClient_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"string error", http.StatusBadRequest, `{"error":"Invalid verse"}`, "Invalid verse"},
		{"object error", http.StatusNotFound, `{"error":{"message":"Verse not found"}}`, "Verse not found"},
		{"error with ok status", http.StatusOK, `{"error":"Chapter out of range"}`, "Chapter out of range"},
		{"no envelope", http.StatusBadGateway, `<html></html>`, "Bad Gateway"},
		{"object error with ok status", http.StatusOK, `{"error":{"message":"Rate limited"}}`, "Rate limited"},
		{"empty error body", http.StatusInternalServerError, ``, "Internal Server Error"},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				client, srv := newTestContentClient(t, map[string]string{"/quran": tc.body})
				srv.setStatus(tc.status)

				_, err := client.QueryQuran(context.Background(), "x", QuranQueryOptions{})
				var qe *QueryError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, tc.message, qe.Message)
				assert.Equal(t, tc.status, qe.StatusCode)
				assert.Equal(t, tc.message, userMessage(err))
			},
		)
	}
}

func TestContentClient_MalformedBody(t *testing.T) {
	t.Parallel()
	client, _ := newTestContentClient(t, map[string]string{"/quran": `{"response":`})

	_, err := client.QueryQuran(context.Background(), "1:1", QuranQueryOptions{})
	require.Error(t, err)
	var qe *QueryError
	assert.False(t, errors.As(err, &qe))
	assert.Equal(t, internalErrorMessage, userMessage(err))
}

func TestContentClient_MediaAndNewsletters(t *testing.T) {
	t.Parallel()
	client, srv := newTestContentClient(
		t,
		map[string]string{
			"/media":       `{"data":[{"title":"Sermon","youtube_id":"abc"}]}`,
			"/newsletters": `{"data":[{"year":1990,"month":"may","page":3,"content":"x"}]}`,
		},
	)

	media, err := client.QueryMedia(context.Background(), "prayer", SearchOptions{Category: "sermon"})
	require.NoError(t, err)
	require.Len(t, media.Data, 1)
	assert.Equal(t, "abc", media.Data[0].YoutubeID)
	q := srv.lastQuery(t)
	assert.Equal(t, "sermon", q.Get("category"))
	assert.Equal(t, searchStrategyDefault, q.Get("strategy"))

	news, err := client.QueryNewsletters(context.Background(), "prayer", SearchOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, news.Data, 1)
	assert.Equal(t, 1990, news.Data[0].Year)
	assert.Equal(t, searchStrategyStrict, srv.lastQuery(t).Get("strategy"))
}

func TestContentClient_RandomVerse(t *testing.T) {
	t.Parallel()
	client, _ := newTestContentClient(
		t,
		map[string]string{
			"/quran/random": `{"data":{"verse_id":"2:255","chapter_number":2,"ws_quran_chapters":{"title_english":"The Heifer"}}}`,
		},
	)
	v, err := client.RandomVerse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2:255", v.VerseID)
	require.NotNil(t, v.Chapter)
	assert.Equal(t, "The Heifer", v.Chapter.TitleEnglish)

	empty, _ := newTestContentClient(t, map[string]string{"/quran/random": `{"data":null}`})
	_, err = empty.RandomVerse(context.Background())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestContentClient_PrayerTimes(t *testing.T) {
	t.Parallel()
	client, srv := newTestContentClient(
		t,
		map[string]string{
			"/prayer-times/tucson": `{
				"location_string": "Tucson, Arizona",
				"current_prayer": "asr",
				"times": {"fajr": "4:30"},
				"coordinates": {"latitude": 32.2, "longitude": -110.9}
			}`,
		},
	)

	times, err := client.PrayerTimes(context.Background(), "tucson", true)
	require.NoError(t, err)
	assert.Equal(t, "Tucson, Arizona", times.LocationString)
	assert.Equal(t, "4:30", times.Times.Fajr)
	assert.InDelta(t, -110.9, times.Coordinates.Longitude, 0.001)
	assert.Equal(t, "true", srv.lastQuery(t).Get("asr_adjustment"))

	_, err = client.PrayerTimes(context.Background(), "tucson", false)
	require.NoError(t, err)
	assert.Empty(t, srv.lastQuery(t).Get("asr_adjustment"))
}

func TestContentClient_ContextCanceled(t *testing.T) {
	t.Parallel()
	client, _ := newTestContentClient(t, map[string]string{"/quran": `{}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.QueryQuran(ctx, "1:1", QuranQueryOptions{})
	require.Error(t, err)
	var qe *QueryError
	assert.False(t, errors.As(err, &qe))
	assert.Equal(t, internalErrorMessage, userMessage(err))
}
