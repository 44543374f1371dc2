package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel/securitygate/pkg/proto"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func toMap(t *testing.T, payload Payload) map[string]any {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestNewPayload(t *testing.T) {
	scanID := uuid.MustParse("2b1f6a0e-6a0c-4c1e-9a9c-0f4f3c2d1e0a")

	t.Run("SAST", func(t *testing.T) {
		payload := NewPayload(scanID, &proto.ScanCommand{
			ScanType:       "full_sast",
			RepositoryURL:  "https://git/x.git",
			ClientGitToken: "t0k3n",
		}, testNow)

		require.IsType(t, SASTPayload{}, payload)
		m := toMap(t, payload)
		assert.Equal(t, scanID.String(), m["scanId"])
		assert.Equal(t, "SAST", m["scanType"])
		assert.Equal(t, "2024-01-01T10:00:00Z", m["timestamp"])
		assert.Equal(t, map[string]any{"url": "https://git/x.git", "branch": "main", "token": "t0k3n"}, m["repository"])
		assert.Equal(t, map[string]any{"timeoutMinutes": float64(30)}, m["config"])
	})

	t.Run("DASTDefaults", func(t *testing.T) {
		payload := NewPayload(scanID, &proto.ScanCommand{
			ScanType:  "DAST_BASIC",
			TargetURL: "https://app",
		}, testNow)

		require.IsType(t, DASTPayload{}, payload)
		m := toMap(t, payload)
		assert.Equal(t, "DAST", m["scanType"])
		assert.Equal(t, map[string]any{"url": "https://app", "scope": []any{}}, m["target"])
		assert.Nil(t, m["authentication"])
		assert.Equal(t, map[string]any{
			"enabled":         true,
			"maxDepth":        float64(5),
			"seedUrls":        []any{},
			"excludePatterns": []any{},
			"timeoutMinutes":  float64(10),
		}, m["spider"])
		assert.Equal(t, map[string]any{"timeoutMinutes": float64(60)}, m["config"])
	})

	t.Run("DASTSpiderConfig", func(t *testing.T) {
		payload := NewPayload(scanID, &proto.ScanCommand{
			ScanType:       "DAST",
			TargetURL:      "https://app",
			Authentication: &proto.DastAuthentication{AuthType: "bearer", Token: "abc"},
			SpiderConfig:   &proto.SpiderConfig{EnableSpider: false, MaxDepth: 2},
		}, testNow).(DASTPayload)

		assert.False(t, payload.Spider.Enabled)
		assert.Equal(t, 2, payload.Spider.MaxDepth)
		assert.Equal(t, 10, payload.Spider.TimeoutMinutes)
		assert.Equal(t, "bearer", payload.Authentication.AuthType)
	})

	t.Run("Generic", func(t *testing.T) {
		timeout := 5
		payload := NewPayload(scanID, &proto.ScanCommand{
			ScanType:       "PORTS_SCAN",
			RepositoryURL:  "10.0.0.1",
			TimeoutMinutes: &timeout,
		}, testNow)

		require.IsType(t, GenericPayload{}, payload)
		m := toMap(t, payload)
		assert.Equal(t, "PORTS_SCAN", m["scanType"])
		assert.Equal(t, "10.0.0.1", m["target"])
		assert.Equal(t, map[string]any{"timeoutMinutes": float64(5)}, m["config"])
	})

	t.Run("UnusableTimeoutGetsDefault", func(t *testing.T) {
		for _, minutes := range []int{0, -1} {
			timeout := minutes
			payload := NewPayload(scanID, &proto.ScanCommand{
				ScanType:       "SAST",
				RepositoryURL:  "https://git/x.git",
				TimeoutMinutes: &timeout,
			}, testNow).(SASTPayload)

			assert.Equal(t, defaultSASTTimeoutMinutes, payload.Config.TimeoutMinutes, minutes)
			assert.Equal(t, 30*time.Minute, payload.timeout())
		}
	})

	t.Run("GenericPrefersTargetURL", func(t *testing.T) {
		payload := NewPayload(scanID, &proto.ScanCommand{
			ScanType:      "CONTAINER",
			RepositoryURL: "repo",
			TargetURL:     "registry/image:tag",
		}, testNow).(GenericPayload)

		assert.Equal(t, "registry/image:tag", payload.Target)
	})
}
