package booking

import (
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{0, "MYR 0.00"},
		{25000, "MYR 250.00"},
		{123456, "MYR 1,234.56"},
		{100000000, "MYR 1,000,000.00"},
		{-5050, "MYR -50.50"},
	}
	for _, tc := range cases {
		if got := formatPrice(tc.amount, "MYR"); got != tc.want {
			t.Errorf("formatPrice(%v): want %q got %q", tc.amount, tc.want, got)
		}
	}
}

func TestFormatTimestamps(t *testing.T) {
	if want, got := "09:05", formatTime("2025-09-30T09:05:00+08:00"); want != got {
		t.Fatalf("time: want %q got %q", want, got)
	}
	if want, got := "23:40", formatTime("2025-09-30T23:40"); want != got {
		t.Fatalf("time without seconds: want %q got %q", want, got)
	}
	if want, got := "Sep 30, 2025", formatDate("2025-09-30T09:05:00+08:00"); want != got {
		t.Fatalf("date: want %q got %q", want, got)
	}
	if want, got := "garbage", formatTime("garbage"); want != got {
		t.Fatalf("unparseable input should pass through: got %q", got)
	}
	if want, got := "1h 5m", formatDuration(3900); want != got {
		t.Fatalf("duration: want %q got %q", want, got)
	}
	if want, got := "0h 0m", formatDuration(59); want != got {
		t.Fatalf("duration: want %q got %q", want, got)
	}
}

func jsonResponse(t *testing.T, body string) *toolexec.Response {
	t.Helper()
	return &toolexec.Response{
		StatusCode:  http.StatusOK,
		Header:      http.Header{"Content-Type": []string{"application/json"}},
		ContentType: "application/json",
		Body:        []byte(body),
	}
}

func TestFormatInitialize(t *testing.T) {
	resp := jsonResponse(t, `{}`)
	resp.Header.Set("Session-Token", "tok-123")
	got, err := formatInitialize(resp)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "BOOKING SESSION INITIALIZED\n" + rule + "\n\n" +
		"Session Token: tok-123\n" +
		"(Token has been captured and will be used automatically for subsequent requests)\n\n" +
		"Status: Ready\n" +
		"Next step: Use search_flights tool to find available flights\n"
	if got != want {
		t.Fatalf("want:\n%s\ngot:\n%s", want, got)
	}

	got, err = formatInitialize(jsonResponse(t, `{}`))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if strings.Contains(got, "Session Token") {
		t.Fatalf("no token header should omit the token line: %q", got)
	}
}

func TestFormatFlightSearch(t *testing.T) {
	body, err := os.ReadFile("testdata/flight_search.json")
	if err != nil {
		t.Fatal(err)
	}
	got, err := formatFlightSearch(jsonResponse(t, string(body)))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "FLIGHT SEARCH RESULTS\n" + rule + "\n\n" +
		"OPTION 1 (FASTEST)\n" +
		"Flight: MH603\n" +
		"Route: Kuala Lumpur (KUL) -> Singapore (SIN)\n" +
		"Departure: Sep 30, 2025 at 09:05\n" +
		"Duration: 1h 5m\n" +
		"Price Range: MYR 250.00 - MYR 1,234.56\n" +
		"\nFlight Details:\n" +
		"  1. Malaysia Airlines 603 (operated by Batik Air)\n" +
		"     Aircraft: Boeing 737-800\n" +
		"     KUL T1 09:05 -> SIN 10:10\n" +
		"\nEconomy Class Options:\n" +
		"  [CHEAPEST] ECOLITE: MYR 250.00 | Class: N | 4 seats left\n" +
		"     AirBoundID: AB1\n" +
		"\nBusiness Class Options:\n" +
		"  [RECOMMENDED] BIZ: MYR 1,234.56 | Class: J\n" +
		"     AirBoundID: AB3\n" +
		"\n" + divider + "\n\n" +
		"Warning: Location information not available for group 2\n\n" +
		"To select a flight, use the create_cart tool with the desired AirBoundID(s)\n"
	if got != want {
		t.Fatalf("want:\n%s\ngot:\n%s", want, got)
	}
}

func TestFormatFlightSearchEmpty(t *testing.T) {
	got, err := formatFlightSearch(jsonResponse(t, `{"data":{"airBoundGroups":[]},"dictionaries":{}}`))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.HasSuffix(got, "No flights found matching your criteria.\n") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestFormatFlightSearchRejectsNonJSON(t *testing.T) {
	if _, err := formatFlightSearch(jsonResponse(t, `not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFormatCreateCart(t *testing.T) {
	t.Run("success with warnings", func(t *testing.T) {
		got, err := formatCreateCart(jsonResponse(t, `{"data":{"cartId":"C-1"},"warnings":[{"code":"W1","message":"fare may change"}]}`))
		if err != nil {
			t.Fatalf("format: %v", err)
		}
		want := "CART CREATION RESULT\n" + rule + "\n\n" +
			"Cart created successfully!\n\n" +
			"Cart ID: C-1\n\n" +
			"WARNINGS:\n" +
			"  - [W1] fare may change\n" +
			"\n" +
			"Next steps:\n" +
			"  1. Add passenger details\n" +
			"  2. Select ancillary services (baggage, meals, etc.)\n" +
			"  3. Proceed to payment\n"
		if got != want {
			t.Fatalf("want:\n%s\ngot:\n%s", want, got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		got, err := formatCreateCart(jsonResponse(t, `{"errors":[{"code":12345,"message":"bound expired","details":{"airBoundId":"AB1"}},{"code":"E2","message":"bad"}]}`))
		if err != nil {
			t.Fatalf("format: %v", err)
		}
		want := "CART CREATION RESULT\n" + rule + "\n\n" +
			"ERRORS:\n" +
			"  - [12345] bound expired\n" +
			"    Details: {\"airBoundId\":\"AB1\"}\n" +
			"  - [E2] bad\n"
		if got != want {
			t.Fatalf("want:\n%s\ngot:\n%s", want, got)
		}
	})
}
