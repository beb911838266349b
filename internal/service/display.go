package service

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/navigapp/navigapp-server-go/internal/model"
)

const maxDisplayFieldRunes = 64

// mergeDisplayFields builds upsert params for telegramID from the given
// sources in priority order. Each field comes from the first source that has
// it; a source's own id is never trusted.
func mergeDisplayFields(telegramID int64, sources ...*model.TelegramUser) model.UpsertUserParams {
	params := model.UpsertUserParams{TelegramID: telegramID}
	for _, src := range sources {
		if src == nil {
			continue
		}
		fields := src.DisplayFields()
		params.FirstName = firstNonNil(params.FirstName, clean(fields.FirstName))
		params.LastName = firstNonNil(params.LastName, clean(fields.LastName))
		params.Username = firstNonNil(params.Username, clean(fields.Username))
		params.LanguageCode = firstNonNil(params.LanguageCode, clean(fields.LanguageCode))
		if params.IsPremium == nil {
			params.IsPremium = fields.IsPremium
		}
	}
	return params
}

func firstNonNil(current, candidate *string) *string {
	if current != nil {
		return current
	}
	return candidate
}

// clean normalises to NFC, trims and caps a display field. Empty results become nil.
func clean(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(norm.NFC.String(*s))
	if v == "" || !utf8.ValidString(v) {
		return nil
	}
	if utf8.RuneCountInString(v) > maxDisplayFieldRunes {
		v = string([]rune(v)[:maxDisplayFieldRunes])
	}
	return &v
}
