package offer

import "testing"

func sampleRecord() *Record {
	return New([]byte{0x02, 0x01, 0x02, 0x03}, Sell, "US", "USD", PaymentMethodCash,
		1_000_000, 10_000, 1_700_000_000, 1_700_086_400, "cash only", "meet downtown")
}

func TestNewComputesHash(t *testing.T) {
	o := sampleRecord()
	if o.Hash != ComputeHash(o) {
		t.Fatal("New did not set Hash to ComputeHash(o)")
	}
}

func TestComputeHashStable(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	if ComputeHash(a) != ComputeHash(b) {
		t.Fatal("identical records hashed to different digests")
	}
}

func TestComputeHashSensitiveToFields(t *testing.T) {
	base := sampleRecord()
	baseHash := ComputeHash(base)

	tests := map[string]*Record{
		"min_amount":  mutate(base, func(o *Record) { o.MinAmount++ }),
		"country":     mutate(base, func(o *Record) { o.CountryISO = "DE" }),
		"currency":    mutate(base, func(o *Record) { o.CurrencyISO = "EUR" }),
		"method":      mutate(base, func(o *Record) { o.PaymentMethod = PaymentMethodOnline }),
		"type":        mutate(base, func(o *Record) { o.Type = Buy }),
		"time_create": mutate(base, func(o *Record) { o.TimeCreate++ }),
		"pubkey":      mutate(base, func(o *Record) { o.PubKey = []byte{0x02, 0xff} }),
	}
	for name, mutated := range tests {
		t.Run(name, func(t *testing.T) {
			if ComputeHash(mutated) == baseHash {
				t.Errorf("mutating %s did not change the hash", name)
			}
		})
	}
}

// TestComputeHashIgnoresEditableFields documents the identity hash's other
// half: the fields an edit is allowed to change must NOT perturb it, or the
// hash could not survive an edit. Their authenticity is covered by EditHash.
func TestComputeHashIgnoresEditableFields(t *testing.T) {
	base := sampleRecord()
	baseHash := ComputeHash(base)

	tests := map[string]*Record{
		"price":      mutate(base, func(o *Record) { o.Price++ }),
		"short_info": mutate(base, func(o *Record) { o.ShortInfo += "!" }),
		"details":    mutate(base, func(o *Record) { o.Details += "!" }),
		"time_exp":   mutate(base, func(o *Record) { o.TimeExpiration++ }),
	}
	for name, mutated := range tests {
		t.Run(name, func(t *testing.T) {
			if ComputeHash(mutated) != baseHash {
				t.Errorf("mutating editable field %s changed the identity hash", name)
			}
		})
	}
}

func mutate(o *Record, f func(*Record)) *Record {
	cp := *o
	f(&cp)
	return &cp
}

func TestEditHashIgnoresNonEditableFields(t *testing.T) {
	o := sampleRecord()
	o.EditingVersion = 1

	editedCountry := *o
	editedCountry.CountryISO = "DE"
	if EditHash(o) != EditHash(&editedCountry) {
		t.Error("EditHash changed when a non-editable field (country) was mutated")
	}

	editedPrice := *o
	editedPrice.Price++
	if EditHash(o) == EditHash(&editedPrice) {
		t.Error("EditHash did not change when price was mutated")
	}
}

func TestFeeCoefficient(t *testing.T) {
	tests := []struct {
		name           string
		create, expire int64
		want           int
	}{
		{"one day", 0, 86400, 1},
		{"ten days exactly", 0, 10 * 86400, 1},
		{"eleven days rolls to coef 2", 0, 11 * 86400, 2},
		{"twenty days", 0, 20 * 86400, 2},
		{"degenerate non-positive window", 100, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeeCoefficient(tt.create, tt.expire); got != tt.want {
				t.Errorf("FeeCoefficient(%d, %d) = %d, want %d", tt.create, tt.expire, got, tt.want)
			}
		})
	}
}

type fakeRefs struct {
	countries, currencies map[string]bool
}

func (f fakeRefs) CountryEnabled(iso string) bool  { return f.countries[iso] }
func (f fakeRefs) CurrencyEnabled(iso string) bool { return f.currencies[iso] }

func TestCheckRejectsTamperedHash(t *testing.T) {
	o := sampleRecord()
	o.MinAmount++ // an identity field; hash no longer matches
	if err := o.Check(false, nil, nil); err == nil {
		t.Fatal("expected ErrHashMismatch for tampered record")
	}
}

func TestCheckRejectsUnknownReferenceData(t *testing.T) {
	o := sampleRecord()
	refs := fakeRefs{countries: map[string]bool{}, currencies: map[string]bool{"USD": true}}
	key, _ := validKeypair(t)
	o.PubKey = key
	o.Hash = ComputeHash(o)
	if err := o.Check(false, refs, nil); err == nil {
		t.Fatal("expected ErrUnknownCountry")
	}
}

func TestCheckRejectsBadExpiration(t *testing.T) {
	o := sampleRecord()
	key, _ := validKeypair(t)
	o.PubKey = key
	o.TimeExpiration = o.TimeCreate - 1
	o.Hash = ComputeHash(o)
	if err := o.Check(false, nil, nil); err == nil {
		t.Fatal("expected ErrBadExpiration")
	}
}

func TestCheckRejectsOversizedFields(t *testing.T) {
	o := sampleRecord()
	key, _ := validKeypair(t)
	o.PubKey = key
	o.Details = string(make([]byte, MaxDetailsLen+1))
	o.Hash = ComputeHash(o)
	if err := o.Check(false, nil, nil); err == nil {
		t.Fatal("expected ErrFieldTooLong")
	}
}

func TestCheckStrictRequiresFeeTx(t *testing.T) {
	o := sampleRecord()
	key, _ := validKeypair(t)
	o.PubKey = key
	o.Hash = ComputeHash(o)
	if err := o.Check(true, nil, nil); err == nil {
		t.Fatal("expected strict Check to require a fee transaction")
	}
	o.IDTransaction = [32]byte{1}
	if err := o.Check(true, nil, nil); err != nil {
		t.Fatalf("Check with fee tx set: %v", err)
	}
}

func TestHasFeeTx(t *testing.T) {
	o := sampleRecord()
	if o.HasFeeTx() {
		t.Fatal("fresh record should report no fee tx")
	}
	o.IDTransaction = [32]byte{1}
	if !o.HasFeeTx() {
		t.Fatal("record with non-zero IDTransaction should report a fee tx")
	}
}
