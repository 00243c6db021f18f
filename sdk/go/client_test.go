package fastvotesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCastVoteSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/actions/42/votes", r.URL.Path)
		require.Equal(t, "fv_secret", r.Header.Get("X-Api-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["vote_value"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vote":{"voter":"ab","vote_value":true,"voted_tick":9},"action":{"action_id":42,"votes_for":1,"vote_count":1,"result":"pending"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "fv_secret"
	vote, action, err := c.CastVote(context.Background(), 42, true, "01")
	require.NoError(t, err)
	require.True(t, vote.VoteValue)
	require.Equal(t, uint64(9), vote.VotedTick)
	require.Equal(t, uint32(1), action.VoteCount)
}

func TestErrorEnvelopeIsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"voting_not_ended","message":"voting has not ended yet"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	c.APIKey = "ignored"
	_, err := c.Finalize(context.Background(), 7)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "voting_not_ended", apiErr.Code)
}

func TestListQueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/actions/3/votes", r.URL.Path)
		require.Equal(t, "against", r.URL.Query().Get("value"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		require.Equal(t, "abc", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"voter":"cd"}],"next_cursor":"cd"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListVotes(context.Background(), 3, "against", 10, "abc")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "cd", page.NextCursor)
}
