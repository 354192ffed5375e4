package banner

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the publication state of a banner
type Status string

const (
	StatusDraft       Status = "draft"
	StatusScheduled   Status = "scheduled"
	StatusPublished   Status = "published"
	StatusUnpublished Status = "unpublished"
)

// IsValid reports whether the status is one of the known publication states
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished, StatusUnpublished:
		return true
	}
	return false
}

// Category is the placement slot of a banner. Ranking is scoped per category.
type Category string

const (
	CategoryPrimaryHero    Category = "primary_hero"
	CategorySecondaryHero  Category = "secondary_hero"
	CategorySubAdvertising Category = "sub_advertising"
)

// Categories lists every placement slot
func Categories() []Category {
	return []Category{CategoryPrimaryHero, CategorySecondaryHero, CategorySubAdvertising}
}

// IsValid validates the category value
func (c Category) IsValid() bool {
	switch c {
	case CategoryPrimaryHero, CategorySecondaryHero, CategorySubAdvertising:
		return true
	}
	return false
}

// ID is a value object representing banner identifier
type ID struct {
	value string
}

// NewID creates a new ID
func NewID() ID {
	return ID{value: uuid.New().String()}
}

// ParseID parses string to ID
func ParseID(id string) (ID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ID{}, err
	}
	return ID{value: id}, nil
}

// String returns string representation
func (id ID) String() string {
	return id.value
}

// Banner is a promotional banner placed in a category slot.
//
// runningNo is set iff status is published and scheduleAt is set iff status is
// scheduled; every mutation goes through Apply or AssignRunningNo so the pair
// stays consistent.
type Banner struct {
	id           ID
	name         string
	clientName   string
	url          string
	category     Category
	status       Status
	scheduleAt   *time.Time
	runningNo    *int
	desktopAsset string
	mobileAsset  string
	createdAt    time.Time
	updatedAt    time.Time
}

// Getters
func (b *Banner) ID() ID                 { return b.id }
func (b *Banner) Name() string           { return b.name }
func (b *Banner) ClientName() string     { return b.clientName }
func (b *Banner) URL() string            { return b.url }
func (b *Banner) Category() Category     { return b.category }
func (b *Banner) Status() Status         { return b.status }
func (b *Banner) ScheduleAt() *time.Time { return b.scheduleAt }
func (b *Banner) RunningNo() *int        { return b.runningNo }
func (b *Banner) DesktopAsset() string   { return b.desktopAsset }
func (b *Banner) MobileAsset() string    { return b.mobileAsset }
func (b *Banner) CreatedAt() time.Time   { return b.createdAt }
func (b *Banner) UpdatedAt() time.Time   { return b.updatedAt }

// Rank returns the running number or 0 when the banner holds none
func (b *Banner) Rank() int {
	if b.runningNo == nil {
		return 0
	}
	return *b.runningNo
}

// Transition describes the effect of an applied event
type Transition struct {
	Event       Event
	From        Status
	To          Status
	VacatedRank int // rank released by the banner, 0 if none
}

// VacatesRank reports whether the transition leaves a gap in the category ranking
func (t Transition) VacatesRank() bool { return t.VacatedRank > 0 }

// CancelsTimer reports whether an outstanding activation must be cancelled.
// Activation consumes its own timer, so it never needs a cancel.
func (t Transition) CancelsTimer() bool {
	return t.From == StatusScheduled && t.Event != EventActivate
}

// Apply moves the banner through the state machine.
// rank is only used when the target status is published; scheduleAt only when it is scheduled.
func (b *Banner) Apply(ev Event, rank int, scheduleAt *time.Time) (Transition, error) {
	next, err := NextStatus(b.status, ev)
	if err != nil {
		return Transition{}, err
	}
	if next == StatusPublished && rank < 1 {
		return Transition{}, ErrInvalidRunningNo
	}

	t := Transition{Event: ev, From: b.status, To: next, VacatedRank: b.Rank()}
	if next == StatusPublished {
		t.VacatedRank = 0
	}

	b.status = next
	b.runningNo = nil
	b.scheduleAt = nil
	switch next {
	case StatusPublished:
		r := rank
		b.runningNo = &r
	case StatusScheduled:
		if scheduleAt != nil {
			at := *scheduleAt
			b.scheduleAt = &at
		}
	}
	b.updatedAt = time.Now()

	return t, nil
}

// AssignRunningNo overwrites the rank of a published banner without touching its neighbours
func (b *Banner) AssignRunningNo(rank int) error {
	if b.status != StatusPublished {
		return ErrNotPublished
	}
	if rank < 1 {
		return ErrInvalidRunningNo
	}
	b.runningNo = &rank
	b.updatedAt = time.Now()
	return nil
}

// UpdateDetails changes the descriptive metadata
func (b *Banner) UpdateDetails(name, clientName, url string) error {
	if name == "" {
		return ErrInvalidName
	}
	b.name = name
	b.clientName = clientName
	b.url = url
	b.updatedAt = time.Now()
	return nil
}

// ReplaceAssets swaps asset references, empty values keep the current one.
// It returns the references that were replaced.
func (b *Banner) ReplaceAssets(desktop, mobile string) (oldDesktop, oldMobile string) {
	if desktop != "" && desktop != b.desktopAsset {
		oldDesktop = b.desktopAsset
		b.desktopAsset = desktop
	}
	if mobile != "" && mobile != b.mobileAsset {
		oldMobile = b.mobileAsset
		b.mobileAsset = mobile
	}
	b.updatedAt = time.Now()
	return oldDesktop, oldMobile
}

// Clone returns a deep copy
func (b *Banner) Clone() *Banner {
	c := *b
	if b.scheduleAt != nil {
		at := *b.scheduleAt
		c.scheduleAt = &at
	}
	if b.runningNo != nil {
		r := *b.runningNo
		c.runningNo = &r
	}
	return &c
}
