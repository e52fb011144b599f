package booking

// ItinerarySegment is one flight leg of a search.
type ItinerarySegment struct {
	OriginLocationCode      string `json:"originLocationCode" jsonschema:"minLength=3,maxLength=3,pattern=^[A-Z]{3}$" jsonschema_description:"IATA airport code for departure city (3 uppercase letters, e.g., KUL for Kuala Lumpur)"`
	DestinationLocationCode string `json:"destinationLocationCode" jsonschema:"minLength=3,maxLength=3,pattern=^[A-Z]{3}$" jsonschema_description:"IATA airport code for arrival city (3 uppercase letters, e.g., SIN for Singapore)"`
	DepartureDate           string `json:"departureDate" jsonschema:"pattern=^\\d{4}-\\d{2}-\\d{2}$" jsonschema_description:"Departure date in ISO format YYYY-MM-DD (e.g., 2025-09-30). Must be a future date."`
	IsRequestedBound        bool   `json:"isRequestedBound" jsonschema_description:"Whether this segment is the primary requested journey. Set true for outbound/main flight, false for return flights in round-trip searches."`
}

// Traveler is one passenger.
type Traveler struct {
	PassengerTypeCode string `json:"passengerTypeCode" jsonschema:"enum=ADT,enum=CHD,enum=INF" jsonschema_description:"Passenger type: ADT=Adult (12+ years), CHD=Child (2-11 years), INF=Infant (0-23 months)"`
}

// FlightSearchBody is the request body shared by initialization and search.
type FlightSearchBody struct {
	CommercialFareFamilies []string           `json:"commercialFareFamilies" jsonschema:"minItems=1" jsonschema_description:"Array of fare family codes to filter search results. Common codes: CFFECO (Economy), CFFBUS (Business), CFFFIR (First). Use airline-specific codes for targeted searches."`
	Itineraries            []ItinerarySegment `json:"itineraries" jsonschema:"minItems=1,maxItems=10" jsonschema_description:"Flight segments defining the journey. Single segment = one-way, two segments = round-trip. Each segment represents one flight leg of the complete journey."`
	SelectedBoundID        string             `json:"selectedBoundId,omitempty" jsonschema_description:"Optional identifier for pre-selected outbound flight in round-trip bookings. Used when customer has already chosen their outbound flight and is now selecting return options."`
	FlowCode               string             `json:"flowCode,omitempty" jsonschema:"enum=Revenue,enum=Award,enum=Upgrade,default=Revenue" jsonschema_description:"Booking flow type: Revenue=paid tickets, Award=redemption with points/miles, Upgrade=cabin upgrades. Always use Revenue by default unless specified otherwise by the customer."`
	Travelers              []Traveler         `json:"travelers" jsonschema:"minItems=1,maxItems=9" jsonschema_description:"List of all passengers for the booking. Each traveler object represents one person. Total count affects pricing and availability. Maximum 9 passengers per booking."`
}

// InitializeBookingArgs are the arguments of initialize_booking_session.
type InitializeBookingArgs struct {
	RequestBody FlightSearchBody `json:"requestBody" jsonschema_description:"Initial flight search parameters to validate and establish booking session. This creates the foundation for subsequent flight searches."`
}

// FlightSearchArgs are the arguments of search_flights.
type FlightSearchArgs struct {
	SessionToken string           `json:"session-token" jsonschema:"minLength=1" jsonschema_description:"Required authentication token obtained from the initialization step. It is returned in the Session-Token response header of initialize_booking_session. WITHOUT this token, flight searches will fail."`
	RequestBody  FlightSearchBody `json:"requestBody" jsonschema_description:"Flight search parameters for finding available flights. Can be identical to initialization parameters or refined based on customer preferences."`
}

// CartBody is the create_cart request body.
type CartBody struct {
	AirBoundIDs []string `json:"airBoundIds" jsonschema:"minItems=1" jsonschema_description:"AirBoundIDs of the selected fares, taken from the most recent search_flights response in the same session."`
}

// CreateCartArgs are the arguments of create_cart.
type CreateCartArgs struct {
	SessionToken string   `json:"session-token" jsonschema:"minLength=1" jsonschema_description:"Session token returned by initialize_booking_session."`
	RequestBody  CartBody `json:"requestBody" jsonschema_description:"Flights to place in the cart."`
}
