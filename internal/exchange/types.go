package exchange

import "time"

// Wire types for the venue's JSON-RPC-over-REST betting API. Only the fields
// the gateway reads are declared.

type eventWrapper struct {
	Event struct {
		ID       string    `json:"id"`
		Name     string    `json:"name"`
		OpenDate time.Time `json:"openDate"`
	} `json:"event"`
	Competition struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"competition"`
}

type marketCatalogueEntry struct {
	MarketID        string    `json:"marketId"`
	MarketName      string    `json:"marketName"`
	MarketStartTime time.Time `json:"marketStartTime"`
	Runners         []struct {
		SelectionID int64  `json:"selectionId"`
		RunnerName  string `json:"runnerName"`
	} `json:"runners"`
}

type marketBook struct {
	MarketID string `json:"marketId"`
	Status   string `json:"status"`
	Runners  []struct {
		SelectionID int64 `json:"selectionId"`
		Ex          struct {
			AvailableToBack []struct {
				Price float64 `json:"price"`
				Size  float64 `json:"size"`
			} `json:"availableToBack"`
		} `json:"ex"`
	} `json:"runners"`
}

type placeOrdersRequest struct {
	MarketID     string             `json:"marketId"`
	Instructions []placeInstruction `json:"instructions"`
	CustomerRef  string             `json:"customerRef,omitempty"`
}

type placeInstruction struct {
	SelectionID string     `json:"selectionId"`
	Handicap    string     `json:"handicap"`
	Side        string     `json:"side"`
	OrderType   string     `json:"orderType"`
	LimitOrder  limitOrder `json:"limitOrder"`
}

type limitOrder struct {
	Size            string `json:"size"`
	Price           string `json:"price"`
	PersistenceType string `json:"persistenceType"`
}

type placeOrdersResponse struct {
	Status             string `json:"status"`
	ErrorCode          string `json:"errorCode"`
	InstructionReports []struct {
		Status       string  `json:"status"`
		ErrorCode    string  `json:"errorCode"`
		BetID        string  `json:"betId"`
		SizeMatched  float64 `json:"sizeMatched"`
		AveragePrice float64 `json:"averagePriceMatched"`
	} `json:"instructionReports"`
}

type clearedOrdersResponse struct {
	ClearedOrders []struct {
		BetID       string    `json:"betId"`
		Profit      float64   `json:"profit"`
		SettledDate time.Time `json:"settledDate"`
	} `json:"clearedOrders"`
	MoreAvailable bool `json:"moreAvailable"`
}

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	LoginStatus  string `json:"loginStatus"`
}

type keepAliveResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type apiError struct {
	Detail struct {
		APINGException struct {
			ErrorCode string `json:"errorCode"`
		} `json:"APINGException"`
	} `json:"detail"`
}
