package gemini

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
)

func TestNewClient(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewClient(context.Background(), Config{})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewClient(context.Background(), Config{
			APIKey: "test-key",
			Logger: log.NewNop(),
		})
		require.NoError(t, err)
		assert.Equal(t, DefaultChatModel, c.chatModel)
		assert.Equal(t, DefaultImageModel, c.imageModel)
		assert.Equal(t, DefaultVideoModel, c.videoModel)
		assert.Equal(t, DefaultVideoPollInterval, c.pollInterval)
	})

	t.Run("keeps overrides", func(t *testing.T) {
		c, err := NewClient(context.Background(), Config{
			APIKey:            "test-key",
			ChatModel:         "gemini-x",
			VideoPollInterval: time.Second,
			Logger:            log.NewNop(),
		})
		require.NoError(t, err)
		assert.Equal(t, "gemini-x", c.chatModel)
		assert.Equal(t, time.Second, c.pollInterval)
	})
}

func TestBuildHistory(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: "Hello", Type: session.TypeText},
		{Role: session.RoleModel, Content: "Hi there", Type: session.TypeText},
		{Role: session.RoleModel, Content: "", Type: session.TypeImage}, // empty placeholder, skipped
		{Role: session.RoleUser, Content: "and now?", Type: session.TypeText},
	}

	contents := buildHistory(history)

	require.Len(t, contents, 3)
	assert.Equal(t, "Hello", contents[0].Parts[0].Text)
	assert.Equal(t, "Hi there", contents[1].Parts[0].Text)
	assert.Equal(t, "and now?", contents[2].Parts[0].Text)
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Mushuk rasmi", "Mushuk rasmi"},
		{"quoted", `"Mushuk rasmi"`, "Mushuk rasmi"},
		{"padded", "  Reja  \n", "Reja"},
		{"empty falls back", "", session.DefaultTitle},
		{"only quotes falls back", `""`, session.DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanTitle(tt.in))
		})
	}
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,eA==", dataURL("image/png", "image/png", []byte("x")))
	assert.Equal(t, "data:video/mp4;base64,eA==", dataURL("", "video/mp4", []byte("x")))
}
