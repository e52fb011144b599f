package booking

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ggoodman/dsp-mcp-go/toolexec"
)

// Tool names.
const (
	ToolInitializeSession = "initialize_booking_session"
	ToolSearchFlights     = "search_flights"
	ToolCreateCart        = "create_cart"
)

const jsonContentType = "application/json"

var (
	rule    = strings.Repeat("=", 80)
	divider = strings.Repeat("-", 80)
)

// Tools returns the booking tools in their advertised order.
func Tools() []toolexec.Tool {
	return []toolexec.Tool{
		toolexec.MustNew[InitializeBookingArgs](toolexec.Definition{
			Name:                   ToolInitializeSession,
			Description:            "Initialize a new booking session.",
			Method:                 "post",
			PathTemplate:           "/initialisation",
			RequestBodyContentType: jsonContentType,
			Security:               bookingSecurity(),
		}, formatInitialize),
		toolexec.MustNew[FlightSearchArgs](toolexec.Definition{
			Name:         ToolSearchFlights,
			Description:  "Perform a flight search based on search criteria. This operation requires 'initialize_booking_session' to be executed first to start the session.",
			Method:       "post",
			PathTemplate: "/flight-search/flights",
			Parameters: []toolexec.Parameter{
				{Name: "session-token", In: toolexec.InHeader},
			},
			RequestBodyContentType: jsonContentType,
			Security:               bookingSecurity(),
		}, formatFlightSearch),
		toolexec.MustNew[CreateCartArgs](toolexec.Definition{
			Name:         ToolCreateCart,
			Description:  "Create a shopping cart with selected flight options. PREREQUISITES: Must call 'initialize_booking_session' first, then 'search_flights' to get available flight options. This endpoint adds the customer's selected flights (identified by airBoundIds from search results) to a cart for booking. The cart validates selections, checks availability, and calculates final pricing. WORKFLOW POSITION: Step 3 of the booking flow (after initialization and search, before passenger details and payment). RESPONSE: Returns a cartId which is required for subsequent booking operations. IMPORTANT: All airBoundIds must come from the most recent search_flights response within the same session.",
			Method:       "post",
			PathTemplate: "/carts",
			Parameters: []toolexec.Parameter{
				{Name: "session-token", In: toolexec.InHeader},
			},
			RequestBodyContentType: jsonContentType,
			Security:               bookingSecurity(),
		}, formatCreateCart),
	}
}

// NewRegistry returns a tool registry holding Tools.
func NewRegistry() (*toolexec.Registry, error) {
	return toolexec.NewRegistry(Tools()...)
}

func formatInitialize(resp *toolexec.Response) (string, error) {
	var b strings.Builder
	b.WriteString("BOOKING SESSION INITIALIZED\n")
	b.WriteString(rule + "\n\n")
	if token := resp.Header.Get("Session-Token"); token != "" {
		fmt.Fprintf(&b, "Session Token: %s\n", token)
		b.WriteString("(Token has been captured and will be used automatically for subsequent requests)\n\n")
	}
	b.WriteString("Status: Ready\n")
	b.WriteString("Next step: Use search_flights tool to find available flights\n")
	return b.String(), nil
}

func formatFlightSearch(resp *toolexec.Response) (string, error) {
	var res flightSearchResponse
	if err := resp.Decode(&res); err != nil {
		return "", fmt.Errorf("decode flight search response: %w", err)
	}
	dict := res.Dictionaries

	var b strings.Builder
	b.WriteString("FLIGHT SEARCH RESULTS\n")
	b.WriteString(rule + "\n\n")

	groups := res.Data.AirBoundGroups
	if len(groups) == 0 {
		b.WriteString("No flights found matching your criteria.\n")
		return b.String(), nil
	}

	for i, g := range groups {
		n := i + 1
		bound := g.BoundDetails
		originLoc, okO := dict.Location[bound.Origin.AirportCode]
		destLoc, okD := dict.Location[bound.Destination.AirportCode]
		if !okO || !okD {
			fmt.Fprintf(&b, "Warning: Location information not available for group %d\n\n", n)
			continue
		}
		if len(bound.Segments) == 0 {
			fmt.Fprintf(&b, "Warning: No segment information for group %d\n\n", n)
			continue
		}
		first, ok := dict.Flight[bound.Segments[0].FlightID]
		if !ok {
			fmt.Fprintf(&b, "Warning: Flight details not available for group %d\n\n", n)
			continue
		}

		currency := "MYR"
		if len(g.AirBounds) > 0 && g.AirBounds[0].Prices.TotalPrice.Original.CurrencyCode != "" {
			currency = g.AirBounds[0].Prices.TotalPrice.Original.CurrencyCode
		}

		fastest := ""
		if bound.IsFastestBound {
			fastest = " (FASTEST)"
		}
		fmt.Fprintf(&b, "OPTION %d%s\n", n, fastest)
		fmt.Fprintf(&b, "Flight: %s%s\n", first.FlightDesignator.Marketing.AirlineCode, first.FlightDesignator.Marketing.FlightNumber)
		fmt.Fprintf(&b, "Route: %s (%s) -> %s (%s)\n", originLoc.CityName, bound.Origin.AirportCode, destLoc.CityName, bound.Destination.AirportCode)
		fmt.Fprintf(&b, "Departure: %s at %s\n", formatDate(first.Departure.DateTime), formatTime(first.Departure.DateTime))
		fmt.Fprintf(&b, "Duration: %s\n", formatDuration(bound.Duration))
		if lo, hi, ok := priceRange(g.AirBounds); ok {
			fmt.Fprintf(&b, "Price Range: %s - %s\n", formatPrice(lo, currency), formatPrice(hi, currency))
		}

		b.WriteString("\nFlight Details:\n")
		for j, seg := range bound.Segments {
			f, ok := dict.Flight[seg.FlightID]
			if !ok {
				continue
			}
			fd := f.FlightDesignator
			fmt.Fprintf(&b, "  %d. %s %s", j+1, dict.Airline[fd.Marketing.AirlineCode], fd.Marketing.FlightNumber)
			if fd.Marketing.AirlineCode != fd.Operating.AirlineCode {
				fmt.Fprintf(&b, " (operated by %s)", dict.Airline[fd.Operating.AirlineCode])
			}
			fmt.Fprintf(&b, "\n     Aircraft: %s\n", f.AircraftName)
			fmt.Fprintf(&b, "     %s", f.Departure.LocationCode)
			if f.Departure.Terminal != "" {
				fmt.Fprintf(&b, " T%s", f.Departure.Terminal)
			}
			fmt.Fprintf(&b, " %s -> %s", formatTime(f.Departure.DateTime), f.Arrival.LocationCode)
			if f.Arrival.Terminal != "" {
				fmt.Fprintf(&b, " T%s", f.Arrival.Terminal)
			}
			fmt.Fprintf(&b, " %s", formatTime(f.Arrival.DateTime))
			if seg.ArrivalDaysDifference != 0 {
				fmt.Fprintf(&b, " +%dd", seg.ArrivalDaysDifference)
			}
			b.WriteString("\n")
		}

		writeFares(&b, "Economy Class Options", faresInCabin(g.AirBounds, dict, "eco"), currency, true)
		writeFares(&b, "Business Class Options", faresInCabin(g.AirBounds, dict, "business"), currency, false)

		b.WriteString("\n" + divider + "\n\n")
	}

	b.WriteString("To select a flight, use the create_cart tool with the desired AirBoundID(s)\n")
	return b.String(), nil
}

func priceRange(bounds []airBound) (lo, hi float64, ok bool) {
	if len(bounds) == 0 {
		return 0, 0, false
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, ab := range bounds {
		lo = math.Min(lo, ab.Prices.TotalPrice.Total)
		hi = math.Max(hi, ab.Prices.TotalPrice.Total)
	}
	return lo, hi, true
}

func faresInCabin(bounds []airBound, dict dictionaries, cabin string) []airBound {
	var out []airBound
	for _, ab := range bounds {
		if ff, ok := dict.FareFamilyWithServices[ab.FareFamilyCode]; ok && ff.Cabin == cabin {
			out = append(out, ab)
		}
	}
	return out
}

// writeFares renders one cabin's fares. Only economy marks the cheapest
// offer.
func writeFares(b *strings.Builder, title string, fares []airBound, currency string, markCheapest bool) {
	if len(fares) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, fare := range fares {
		if len(fare.AvailabilityDetails) == 0 {
			continue
		}
		avail := fare.AvailabilityDetails[0]
		tag := ""
		switch {
		case fare.ExtraProperties.IsRecommended:
			tag = "[RECOMMENDED] "
		case markCheapest && fare.IsCheapestOffer:
			tag = "[CHEAPEST] "
		}
		fmt.Fprintf(b, "  %s%s: %s", tag, fare.FareFamilyCode, formatPrice(fare.Prices.TotalPrice.Total, currency))
		fmt.Fprintf(b, " | Class: %s", avail.BookingClass)
		if avail.SeatLeft > 0 {
			fmt.Fprintf(b, " | %d seats left", avail.SeatLeft)
		}
		fmt.Fprintf(b, "\n     AirBoundID: %s\n", fare.AirBoundID)
	}
}

func formatCreateCart(resp *toolexec.Response) (string, error) {
	var res createCartResponse
	if err := resp.Decode(&res); err != nil {
		return "", fmt.Errorf("decode cart response: %w", err)
	}

	var b strings.Builder
	b.WriteString("CART CREATION RESULT\n")
	b.WriteString(rule + "\n\n")

	if len(res.Errors) > 0 {
		b.WriteString("ERRORS:\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "  - [%v] %s\n", e.Code, e.Message)
			if e.Details != nil {
				details, err := json.Marshal(e.Details)
				if err != nil {
					return "", fmt.Errorf("encode error details: %w", err)
				}
				fmt.Fprintf(&b, "    Details: %s\n", details)
			}
		}
		return b.String(), nil
	}

	b.WriteString("Cart created successfully!\n\n")
	fmt.Fprintf(&b, "Cart ID: %s\n\n", res.Data.CartID)

	if len(res.Warnings) > 0 {
		b.WriteString("WARNINGS:\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "  - [%v] %s\n", w.Code, w.Message)
		}
		b.WriteString("\n")
	}

	b.WriteString("Next steps:\n")
	b.WriteString("  1. Add passenger details\n")
	b.WriteString("  2. Select ancillary services (baggage, meals, etc.)\n")
	b.WriteString("  3. Proceed to payment\n")
	return b.String(), nil
}
