package control

import "testing"

func TestAddMoney(t *testing.T) {
	cases := []struct {
		name          string
		a, b          Money
		allowOverflow bool
		want          Money
		wantErr       bool
	}{
		{
			name: "simple sum",
			a:    Money{CurrencyCode: "USD", Units: 1, Nanos: 500000000},
			b:    Money{CurrencyCode: "USD", Units: 2, Nanos: 600000000},
			want: Money{CurrencyCode: "USD", Units: 4, Nanos: 100000000},
		},
		{
			name:    "currency mismatch",
			a:       Money{CurrencyCode: "USD", Units: 1},
			b:       Money{CurrencyCode: "EUR", Units: 1},
			wantErr: true,
		},
		{
			name:    "overflow rejected without allow_overflow",
			a:       Money{CurrencyCode: "USD", Units: maxInt64Units - 1},
			b:       Money{CurrencyCode: "USD", Units: 2},
			wantErr: true,
		},
		{
			name:          "overflow clamped with allow_overflow",
			a:             Money{CurrencyCode: "USD", Units: maxInt64Units - 1},
			b:             Money{CurrencyCode: "USD", Units: 2},
			allowOverflow: true,
			want:          Money{CurrencyCode: "USD", Units: maxInt64Units, Nanos: maxNanos},
		},
		{
			name:          "negative overflow clamped with allow_overflow",
			a:             Money{CurrencyCode: "USD", Units: minInt64Units + 1},
			b:             Money{CurrencyCode: "USD", Units: -2},
			allowOverflow: true,
			want:          Money{CurrencyCode: "USD", Units: minInt64Units, Nanos: minNanos},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AddMoney(tc.a, tc.b, tc.allowOverflow)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestAddMoney_SignMismatchIsNormalized(t *testing.T) {
	a := Money{CurrencyCode: "USD", Units: 1, Nanos: 100000000}   // 1.1
	b := Money{CurrencyCode: "USD", Units: -2, Nanos: 0}          // -2.0

	got, err := AddMoney(a, b, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Units != 0 || got.Nanos != -900000000 {
		t.Fatalf("expected a normalized -0.9 result, got %+v", got)
	}
}
