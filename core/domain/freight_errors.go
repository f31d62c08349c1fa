package domain

import "errors"

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrShipmentNotFound      = errors.New("shipment not found")
	ErrUnknownDocumentType   = errors.New("unknown document type")
	ErrMalformedOracleOutput = errors.New("malformed oracle output")
	ErrOracleUnavailable     = errors.New("oracle unavailable")
	ErrNoShipmentIdentifier  = errors.New("no shipment identifier")
	ErrHallucinatedDate      = errors.New("date outside collection window")
	ErrMalformedDate         = errors.New("unparseable date")
	ErrNotPendingReview      = errors.New("document is not pending review")
	ErrMissingExternalID     = errors.New("external message id is required")
	ErrInvalidRules          = errors.New("invalid rule configuration")
)
