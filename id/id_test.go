package id

import (
	"strings"
	"testing"
)

func TestNewIDs(t *testing.T) {
	tests := []struct {
		name    string
		newFunc func() string
		prefix  Prefix
	}{
		{"AccountID", func() string { return NewAccountID().String() }, PrefixAccount},
		{"LotID", func() string { return NewLotID().String() }, PrefixLot},
		{"ReservationID", func() string { return NewReservationID().String() }, PrefixReservation},
		{"LedgerEntryID", func() string { return NewLedgerEntryID().String() }, PrefixLedgerEntry},
		{"TransferID", func() string { return NewTransferID().String() }, PrefixTransfer},
		{"GovernanceConfigID", func() string { return NewGovernanceConfigID().String() }, PrefixGovernance},
		{"ReceivableID", func() string { return NewReceivableID().String() }, PrefixReceivable},
		{"OutboxEventID", func() string { return NewOutboxEventID().String() }, PrefixOutboxEvent},
		{"DiscountID", func() string { return NewDiscountID().String() }, PrefixDiscount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.newFunc()

			if !strings.HasPrefix(id, string(tt.prefix)+"_") {
				t.Errorf("ID %s does not have prefix %s", id, tt.prefix)
			}

			parts := strings.Split(id, "_")
			if len(parts) != 2 {
				t.Errorf("ID %s does not have correct format", id)
			}

			if len(parts[1]) != 26 {
				t.Errorf("ID suffix %s does not have correct length (got %d, want 26)", parts[1], len(parts[1]))
			}
		})
	}
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name      string
		parseFunc func(string) (ID, error)
		validID   string
		invalidID string
		wrongID   string // ID with wrong prefix
	}{
		{
			"ParseAccountID",
			ParseAccountID,
			"acct_01h2xcejqtf2nbrexx3vqjhp41",
			"acct_invalid",
			"rsv_01h2xcejqtf2nbrexx3vqjhp41",
		},
		{
			"ParseReservationID",
			ParseReservationID,
			"rsv_01h2xcejqtf2nbrexx3vqjhp41",
			"rsv_invalid",
			"acct_01h2xcejqtf2nbrexx3vqjhp41",
		},
		{
			"ParseTransferID",
			ParseTransferID,
			"xfer_01h2xcejqtf2nbrexx3vqjhp41",
			"xfer_invalid",
			"rsv_01h2xcejqtf2nbrexx3vqjhp41",
		},
		{
			"ParseReceivableID",
			ParseReceivableID,
			"recv_01h2xcejqtf2nbrexx3vqjhp41",
			"recv_invalid",
			"acct_01h2xcejqtf2nbrexx3vqjhp41",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.parseFunc(tt.validID)
			if err != nil {
				t.Errorf("Failed to parse valid ID %s: %v", tt.validID, err)
			}
			if id.IsNil() {
				t.Errorf("Parsed ID is nil for %s", tt.validID)
			}

			_, err = tt.parseFunc(tt.invalidID)
			if err == nil {
				t.Errorf("Expected error parsing invalid ID %s", tt.invalidID)
			}

			_, err = tt.parseFunc(tt.wrongID)
			if err == nil {
				t.Errorf("Expected error parsing ID with wrong prefix %s", tt.wrongID)
			}
			if err != nil && !strings.Contains(err.Error(), "expected prefix") {
				t.Errorf("Wrong error message for incorrect prefix: %v", err)
			}
		})
	}
}

func TestParseAny(t *testing.T) {
	validIDs := []string{
		"acct_01h2xcejqtf2nbrexx3vqjhp41",
		"lot_01h2xcejqtf2nbrexx3vqjhp41",
		"rsv_01h2xcejqtf2nbrexx3vqjhp41",
		"xfer_01h2xcejqtf2nbrexx3vqjhp41",
		"entr_01h2xcejqtf2nbrexx3vqjhp41",
	}

	for _, id := range validIDs {
		parsed, err := ParseAny(id)
		if err != nil {
			t.Errorf("Failed to parse valid ID %s: %v", id, err)
		}
		if parsed.String() != id {
			t.Errorf("Parsed ID mismatch: got %s, want %s", parsed.String(), id)
		}
	}

	_, err := ParseAny("invalid_id")
	if err == nil {
		t.Error("Expected error parsing invalid ID")
	}
}

func TestIDUniqueness(t *testing.T) {
	const count = 100
	ids := make(map[string]bool)

	for i := 0; i < count; i++ {
		id := NewAccountID().String()
		if ids[id] {
			t.Fatalf("Duplicate ID generated: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != count {
		t.Errorf("Expected %d unique IDs, got %d", count, len(ids))
	}
}

func TestIDSortability(t *testing.T) {
	id1 := NewAccountID()
	id2 := NewAccountID()
	id3 := NewAccountID()

	if id1.String() >= id2.String() {
		t.Logf("Warning: IDs may not be perfectly time-ordered: %s >= %s", id1, id2)
	}
	if id2.String() >= id3.String() {
		t.Logf("Warning: IDs may not be perfectly time-ordered: %s >= %s", id2, id3)
	}
}

func TestIDNilRoundTrip(t *testing.T) {
	var nilID ID

	if !nilID.IsNil() {
		t.Fatal("zero-value ID should be nil")
	}
	if nilID.String() != "" {
		t.Errorf("nil ID should stringify to empty string, got %q", nilID.String())
	}

	v, err := nilID.Value()
	if err != nil || v != nil {
		t.Errorf("nil ID should Value() to nil, got (%v, %v)", v, err)
	}

	var scanned ID
	if err := scanned.Scan(nil); err != nil || !scanned.IsNil() {
		t.Errorf("Scan(nil) should yield a nil ID, got (%v, %v)", scanned, err)
	}
}

func BenchmarkNewAccountID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewAccountID()
	}
}

func BenchmarkParseAccountID(b *testing.B) {
	id := "acct_01h2xcejqtf2nbrexx3vqjhp41"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseAccountID(id)
	}
}
