package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/mcpservice"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// Prompt names.
const (
	PromptGenerateItinerary       = "generate-itinerary"
	PromptUnsupportedRoute        = "unsupported-route-response"
	PromptSupportedRouteConfirmed = "supported-route-confirmed"
	PromptBookingTransition       = "booking-transition"
)

// Prompts returns the conversational prompts that steer a client through
// route checks, itinerary planning and the booking flow.
//
// Prompt arguments arrive as strings. List arguments accept either a JSON
// array or a comma-separated list.
func Prompts() []mcpservice.StaticPrompt {
	return []mcpservice.StaticPrompt{
		{
			Descriptor: mcp.Prompt{
				Name:        PromptGenerateItinerary,
				Description: "Create a detailed travel itinerary for supported destinations with required closing phrase",
				Arguments: []mcp.PromptArgument{
					{Name: "destination", Description: "Destination city or airport code", Required: true},
					{Name: "duration", Description: "Trip duration in days"},
					{Name: "travelStyle", Description: "One of business, leisure, family or adventure"},
					{Name: "interests", Description: "Traveler interests"},
				},
			},
			Handler: generateItinerary,
		},
		{
			Descriptor: mcp.Prompt{
				Name:        PromptUnsupportedRoute,
				Description: "Generate standardized response for unsupported route requests with exact business messaging",
				Arguments: []mcp.PromptArgument{
					{Name: "requestedDestination", Description: "The destination that was requested but is not supported", Required: true},
					{Name: "supportedAlternatives", Description: "List of supported destinations to offer as alternatives", Required: true},
				},
			},
			Handler: unsupportedRoute,
		},
		{
			Descriptor: mcp.Prompt{
				Name:        PromptSupportedRouteConfirmed,
				Description: "Confirm route is supported and transition to itinerary planning",
				Arguments: []mcp.PromptArgument{
					{Name: "origin", Description: "Origin airport code (3 uppercase letters)", Required: true},
					{Name: "destination", Description: "Destination airport code (3 uppercase letters)", Required: true},
					{Name: "destinationName", Description: "Destination city name for user-friendly display", Required: true},
				},
			},
			Handler: supportedRouteConfirmed,
		},
		{
			Descriptor: mcp.Prompt{
				Name:        PromptBookingTransition,
				Description: "Handle transition from itinerary to flight booking when user shows booking intent",
				Arguments: []mcp.PromptArgument{
					{Name: "userIntent", Description: "One of check_flights, book_flights or flight_search", Required: true},
					{Name: "origin", Description: "Origin airport code if specified by user"},
					{Name: "destination", Description: "Destination airport code if specified by user"},
					{Name: "missingInfo", Description: "Missing details: dates, passengers, class, origin, destination"},
				},
			},
			Handler: bookingTransition,
		},
	}
}

func assistantText(text string) mcp.PromptMessage {
	return mcp.PromptMessage{
		Role:    mcp.RoleAssistant,
		Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text},
	}
}

// listArg parses a list-valued prompt argument.
func listArg(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func invalidArg(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", mcpservice.ErrMissingPromptArgument, name, reason)
}

var travelStyles = map[string]bool{"business": true, "leisure": true, "family": true, "adventure": true}

func generateItinerary(_ context.Context, _ *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	args := req.Arguments
	duration := 3
	if v := args["duration"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, invalidArg("duration", "must be a positive number of days")
		}
		duration = n
	}
	style := "leisure"
	if v := args["travelStyle"]; v != "" {
		if !travelStyles[v] {
			return nil, invalidArg("travelStyle", "must be business, leisure, family or adventure")
		}
		style = v
	}

	interests := ""
	if list := listArg(args["interests"]); len(list) > 0 {
		interests = fmt.Sprintf("The traveler is particularly interested in: %s.", strings.Join(list, ", "))
	}

	guidance := `You are creating a travel itinerary for a Malaysia Airlines customer. After providing the complete itinerary, you MUST end with exactly this phrase: "Would you like to check flights for your trip?" - this is a business requirement.`
	request := fmt.Sprintf(`Create a comprehensive %d-day %s travel itinerary for %s. %s

Please include:
- **Day-by-day breakdown** with specific activities
- **Local food recommendations** and where to find them
- **Cultural attractions** and museums
- **Practical travel tips** (transportation, customs, currency)
- **Best times to visit** attractions
- **Local transportation** within the city
- **Estimated costs** where relevant

Structure the response with clear headings and make it practical and actionable. After completing the full itinerary, you must ask about checking flights using the exact phrase specified.`, duration, style, args["destination"], interests)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("%d-day %s itinerary for %s", duration, style, args["destination"]),
		Messages:    []mcp.PromptMessage{mcpservice.UserText(guidance), mcpservice.UserText(request)},
	}, nil
}

func unsupportedRoute(_ context.Context, _ *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	dest := req.Arguments["requestedDestination"]
	var bullets []string
	for _, alt := range listArg(req.Arguments["supportedAlternatives"]) {
		bullets = append(bullets, "• "+alt)
	}
	text := fmt.Sprintf(`Unfortunately Malaysia Airlines does not have any flights to %s yet. If you would like to book with us, would you like to see all the destinations we fly to?

Here are all the destinations Malaysia Airlines currently serves:
%s

Would you like me to craft an itinerary or travel recommendations for these destinations instead?`, dest, strings.Join(bullets, "\n"))

	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			mcpservice.UserText("You must use the exact business messaging provided. This is a standardized response for unsupported routes and must include the specific phrases for compliance reasons."),
			assistantText(text),
		},
	}, nil
}

func supportedRouteConfirmed(_ context.Context, _ *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	args := req.Arguments
	for _, name := range []string{"origin", "destination"} {
		if !airportCodeRE.MatchString(args[name]) {
			return nil, invalidArg(name, "must be a 3-letter uppercase airport code")
		}
	}
	text := fmt.Sprintf("Great news! Malaysia Airlines operates flights from %s to %s. Let me create a detailed travel itinerary for %s for you.",
		args["origin"], args["destination"], args["destinationName"])
	return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{assistantText(text)}}, nil
}

var userIntents = map[string]bool{"check_flights": true, "book_flights": true, "flight_search": true}

var missingInfoLabels = map[string]string{
	"dates":       "travel dates",
	"passengers":  "number of passengers",
	"class":       "cabin class preference",
	"origin":      "departure city",
	"destination": "destination city",
}

func bookingTransition(_ context.Context, _ *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	args := req.Arguments
	intent := args["userIntent"]
	if !userIntents[intent] {
		return nil, invalidArg("userIntent", "must be check_flights, book_flights or flight_search")
	}
	for _, name := range []string{"origin", "destination"} {
		if v := args[name]; v != "" && !airportCodeRE.MatchString(v) {
			return nil, invalidArg(name, "must be a 3-letter uppercase airport code")
		}
	}
	action := strings.Replace(intent, "_", " ", 1)

	var text string
	if args["origin"] != "" && args["destination"] != "" {
		text = fmt.Sprintf("Perfect! I'll help you %s from %s to %s. Let me search for available options for you.", action, args["origin"], args["destination"])
	} else {
		text = fmt.Sprintf("I'd be happy to help you %s! ", action)
		if missing := listArg(args["missingInfo"]); len(missing) > 0 {
			labels := make([]string, len(missing))
			for i, m := range missing {
				labels[i] = m
				if l, ok := missingInfoLabels[m]; ok {
					labels[i] = l
				}
			}
			text += fmt.Sprintf("To search for the best options, I'll need some details: %s. Could you provide those details?", strings.Join(labels, ", "))
		} else {
			text += "To search for the best options, I'll need details like your departure city, destination, travel dates, and number of passengers. Could you provide those details?"
		}
	}

	guidance := fmt.Sprintf("The user has expressed intent to %s. You should now proceed with flight booking workflow: 1) Validate route if not already done, 2) Use %s, 3) Use %s. Be helpful and ask for any missing information needed for booking.",
		intent, ToolInitializeSession, ToolSearchFlights)

	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{mcpservice.UserText(guidance), assistantText(text)},
	}, nil
}
