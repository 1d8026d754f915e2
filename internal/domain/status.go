package domain

// CopyStatus is the lifecycle state of a physical copy.
type CopyStatus string

const (
	CopyInStock  CopyStatus = "in_stock"
	CopyBorrowed CopyStatus = "borrowed"
	CopyHeld     CopyStatus = "held"
	CopyDamaged  CopyStatus = "damaged"
)

// CopyEvent names a transition request against a copy.
type CopyEvent string

const (
	EventBorrow       CopyEvent = "borrow"        // in_stock -> borrowed
	EventClaimHold    CopyEvent = "claim_hold"    // held -> borrowed
	EventReturn       CopyEvent = "return"        // borrowed -> in_stock
	EventReturnToHold CopyEvent = "return_hold"   // borrowed -> held
	EventHoldExpired  CopyEvent = "hold_expired"  // held -> in_stock
	EventDamage       CopyEvent = "report_damage" // any live state -> damaged
)

// copyTransitions is the complete set of legal copy transitions.
// Anything not listed is rejected. Damaged has no outgoing edges.
//
//	from      | event          | to
//	----------+----------------+---------
//	in_stock  | borrow         | borrowed
//	in_stock  | report_damage  | damaged
//	borrowed  | return         | in_stock
//	borrowed  | return_hold    | held
//	borrowed  | report_damage  | damaged
//	held      | claim_hold     | borrowed
//	held      | hold_expired   | in_stock
//	held      | report_damage  | damaged
var copyTransitions = map[CopyStatus]map[CopyEvent]CopyStatus{
	CopyInStock: {
		EventBorrow: CopyBorrowed,
		EventDamage: CopyDamaged,
	},
	CopyBorrowed: {
		EventReturn:       CopyInStock,
		EventReturnToHold: CopyHeld,
		EventDamage:       CopyDamaged,
	},
	CopyHeld: {
		EventClaimHold:   CopyBorrowed,
		EventHoldExpired: CopyInStock,
		EventDamage:      CopyDamaged,
	},
}

// NextCopyStatus returns the state reached by applying ev in state from.
// ok is false when the transition is not in the table.
func NextCopyStatus(from CopyStatus, ev CopyEvent) (to CopyStatus, ok bool) {
	to, ok = copyTransitions[from][ev]
	return to, ok
}

// Valid reports whether s is a known copy status.
func (s CopyStatus) Valid() bool {
	switch s {
	case CopyInStock, CopyBorrowed, CopyHeld, CopyDamaged:
		return true
	}
	return false
}

// BorrowStatus is the state of a loan.
type BorrowStatus string

const (
	BorrowActive         BorrowStatus = "active"
	BorrowReturnedOnTime BorrowStatus = "returned_on_time"
	BorrowReturnedLate   BorrowStatus = "returned_late"
)

// borrowTransitions: active -> returned_on_time | returned_late. Both
// returned states are terminal.
var borrowTransitions = map[BorrowStatus][]BorrowStatus{
	BorrowActive: {BorrowReturnedOnTime, BorrowReturnedLate},
}

// CanTransition reports whether a loan may move from s to next.
func (s BorrowStatus) CanTransition(next BorrowStatus) bool {
	return contains(borrowTransitions[s], next)
}

// ReservationStatus is the state of a reservation request.
type ReservationStatus string

const (
	ReservationQueued    ReservationStatus = "queued"
	ReservationAllocated ReservationStatus = "allocated"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
)

// reservationTransitions:
//
//	queued    -> allocated            (copy returned, FIFO head)
//	allocated -> fulfilled            (allocated reader borrowed the copy)
//	allocated -> expired              (pickup window passed)
//	allocated -> queued               (held copy was damaged before pickup)
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationQueued:    {ReservationAllocated},
	ReservationAllocated: {ReservationFulfilled, ReservationExpired, ReservationQueued},
}

// CanTransition reports whether a reservation may move from s to next.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	return contains(reservationTransitions[s], next)
}

// Open reports whether the reservation still counts against the
// one-open-reservation-per-reader limit.
func (s ReservationStatus) Open() bool {
	return s == ReservationQueued || s == ReservationAllocated
}

// ExtensionStatus is the state of an extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// extensionTransitions: pending -> approved | rejected; decisions are final.
var extensionTransitions = map[ExtensionStatus][]ExtensionStatus{
	ExtensionPending: {ExtensionApproved, ExtensionRejected},
}

// CanTransition reports whether an extension request may move from s to next.
func (s ExtensionStatus) CanTransition(next ExtensionStatus) bool {
	return contains(extensionTransitions[s], next)
}

// ReaderRole is the patron category supplied by the identity provider.
type ReaderRole string

const (
	ReaderUndergraduate ReaderRole = "undergraduate"
	ReaderGraduate      ReaderRole = "graduate"
	ReaderFaculty       ReaderRole = "faculty"
	ReaderGuest         ReaderRole = "guest"
)

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
