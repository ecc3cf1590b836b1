package swap

import "errors"

var (
	// ErrMultipleSeeds is returned when a single-seed variant meets an owner with several seeds.
	ErrMultipleSeeds = errors.New("owner has more than one seed")
	// ErrUnknownUnit is returned for unit IDs not present in the dataset.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrUnknownOwner is returned for owners not present in the state.
	ErrUnknownOwner = errors.New("unknown owner")
	// ErrMalformedProposal marks a candidate that references units its party does not own.
	ErrMalformedProposal = errors.New("malformed swap proposal")
	// ErrDuplicateUnit is returned when a dataset contains the same ID twice.
	ErrDuplicateUnit = errors.New("duplicate unit id")
)
