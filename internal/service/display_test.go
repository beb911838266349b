package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navigapp/navigapp-server-go/internal/model"
)

func TestMergeDisplayFields(t *testing.T) {
	t.Run("first source with a field wins", func(t *testing.T) {
		params := mergeDisplayFields(12345,
			&model.TelegramUser{ID: 12345, FirstName: "Verified"},
			nil,
			&model.TelegramUser{ID: 999, FirstName: "Request", LastName: "Smith", IsPremium: true},
		)

		assert.Equal(t, int64(12345), params.TelegramID)
		assert.Equal(t, "Verified", *params.FirstName)
		assert.Equal(t, "Smith", *params.LastName)
		require.NotNil(t, params.IsPremium)
		assert.True(t, *params.IsPremium)
		assert.Nil(t, params.Username)
	})

	t.Run("whitespace only values are skipped", func(t *testing.T) {
		params := mergeDisplayFields(1,
			&model.TelegramUser{FirstName: "   "},
			&model.TelegramUser{FirstName: " Ann "},
		)
		assert.Equal(t, "Ann", *params.FirstName)
	})

	t.Run("normalises to NFC", func(t *testing.T) {
		params := mergeDisplayFields(1, &model.TelegramUser{FirstName: "Jose\u0301"})
		assert.Equal(t, "Jos\u00e9", *params.FirstName)
	})

	t.Run("caps long values", func(t *testing.T) {
		params := mergeDisplayFields(1, &model.TelegramUser{LastName: strings.Repeat("я", 100)})
		assert.Equal(t, maxDisplayFieldRunes, len([]rune(*params.LastName)))
	})
}
