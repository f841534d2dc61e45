package models

// These structs define the JSON payloads exchanged between the HTTP request
// function, the search queue, the search worker and the retrieval workflow.

// SearchMessage is the body of a search-queue message. It never carries a
// status: the worker re-reads the case record on every delivery.
type SearchMessage struct {
	CaseNumber string `json:"caseNumber"`
	UserID     string `json:"userId"`
	UserAgent  string `json:"userAgent,omitempty"`
}

// RetrievalRequest is the argument passed to the data-retrieval workflow.
type RetrievalRequest struct {
	CaseNumber string `json:"caseNumber"`
	CaseID     string `json:"caseId"`
	UserID     string `json:"userId"`
}

// PubSubMessage is the message part of a Pub/Sub push delivery.
type PubSubMessage struct {
	Data       []byte            `json:"data"`
	MessageID  string            `json:"messageId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MessagePublishedData is the CloudEvent payload for Pub/Sub deliveries.
type MessagePublishedData struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

// CaseLookupRequest is the input of the case-request HTTP function.
type CaseLookupRequest struct {
	UserID      string `json:"userId" validate:"required,max=128"`
	CaseNumbers string `json:"caseNumbers" validate:"max=4096"`
	UserAgent   string `json:"userAgent,omitempty" validate:"max=512"`
}

// CaseLookupResponse is the output of the case-request HTTP function.
type CaseLookupResponse struct {
	Cases map[string]CaseRecord `json:"cases"`
}
