package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	event := Event{
		ID:           uuid.New(),
		Category:     CategoryCompliance,
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Action:       string(EventTokensMinted),
		Subject:      "0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
		Seq:          7,
		TransitionID: uuid.NewString(),
		Attributes:   map[string]string{"amount": "1000000000000000000"},
	}

	data, err := Encode(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"tokens_minted"`)
	assert.NotContains(t, string(data), "actor_id")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, event, got)
}

func TestDecodeFillsCategory(t *testing.T) {
	got, err := Decode([]byte(`{"id":"` + uuid.NewString() + `","action":"owner_mint_denied","subject":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, CategorySecurity, got.Category)
}

func TestDecodeRejects(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":       `{`,
		"missing id":     `{"action":"tokens_minted"}`,
		"missing action": `{"id":"` + uuid.NewString() + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}
