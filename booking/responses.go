package booking

// Wire shapes of the booking API responses the formatters read. Only the
// fields that are rendered are declared.

type flightSearchResponse struct {
	Data struct {
		AirBoundGroups []airBoundGroup `json:"airBoundGroups"`
	} `json:"data"`
	Dictionaries dictionaries `json:"dictionaries"`
}

type dictionaries struct {
	FareFamilyWithServices map[string]fareFamily      `json:"fareFamilyWithServices"`
	Airline                map[string]string          `json:"airline"`
	Flight                 map[string]flightDetails   `json:"flight"`
	Location               map[string]locationDetails `json:"location"`
}

type fareFamily struct {
	Hierarchy            int    `json:"hierarchy"`
	CommercialFareFamily string `json:"commercialFareFamily"`
	Cabin                string `json:"cabin"`
}

type locationDetails struct {
	CityCode    string `json:"cityCode"`
	CityName    string `json:"cityName"`
	AirportName string `json:"airportName"`
	CountryCode string `json:"countryCode"`
}

type flightDesignator struct {
	Marketing struct {
		AirlineCode  string `json:"airlineCode"`
		AirlineName  string `json:"airlineName"`
		FlightNumber string `json:"flightNumber"`
	} `json:"marketing"`
	Operating struct {
		AirlineCode string `json:"airlineCode"`
		AirlineName string `json:"airlineName"`
	} `json:"operating"`
}

type flightEndpoint struct {
	LocationCode string `json:"locationCode"`
	DateTime     string `json:"dateTime"`
	Terminal     string `json:"terminal,omitempty"`
}

type flightDetails struct {
	FlightDesignator flightDesignator `json:"flightDesignator"`
	Departure        flightEndpoint   `json:"departure"`
	Arrival          flightEndpoint   `json:"arrival"`
	AircraftCode     string           `json:"aircraftCode"`
	AircraftName     string           `json:"aircraftName"`
	Duration         int64            `json:"duration"`
}

type airBoundGroup struct {
	BoundDetails struct {
		Origin struct {
			AirportCode string `json:"airportCode"`
		} `json:"origin"`
		Destination struct {
			AirportCode string `json:"airportCode"`
		} `json:"destination"`
		Duration       int64     `json:"duration"`
		Segments       []segment `json:"segments"`
		IsFastestBound bool      `json:"isFastestBound"`
	} `json:"boundDetails"`
	AirBounds []airBound `json:"airBounds"`
}

type segment struct {
	FlightID              string `json:"flightId"`
	ArrivalDaysDifference int    `json:"arrivalDaysDifference"`
}

type airBound struct {
	AirBoundID     string `json:"airBoundId"`
	FareFamilyCode string `json:"fareFamilyCode"`
	Prices         struct {
		TotalPrice struct {
			Original struct {
				CurrencyCode string  `json:"currencyCode"`
				Amount       float64 `json:"amount"`
			} `json:"original"`
			Total float64 `json:"total"`
		} `json:"totalPrice"`
	} `json:"prices"`
	AvailabilityDetails []struct {
		BookingClass string `json:"bookingClass"`
		SeatLeft     int    `json:"seatLeft"`
	} `json:"availabilityDetails"`
	IsCheapestOffer bool `json:"isCheapestOffer"`
	ExtraProperties struct {
		IsRecommended bool `json:"isRecommended"`
	} `json:"extraProperties"`
}

type apiMessage struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type createCartResponse struct {
	Data struct {
		CartID string `json:"cartId"`
	} `json:"data"`
	Warnings []apiMessage `json:"warnings"`
	Errors   []apiMessage `json:"errors"`
}
