package domain

import (
	"errors"
	"time"

	sharedDomain "github.com/felixgeelhaar/agenda/internal/shared/domain"
	"github.com/google/uuid"
)

var ErrInvalidBlockRange = errors.New("block end must not be before start")

// BlockKind says why the time is unavailable.
type BlockKind string

const (
	BlockVacation         BlockKind = "vacation"
	BlockMaintenance      BlockKind = "maintenance"
	BlockManual           BlockKind = "manual"
	BlockHoliday          BlockKind = "holiday"
	BlockExternalCalendar BlockKind = "external-calendar"
	BlockOther            BlockKind = "other"
)

// Block is an interval in which nothing may be placed. Blocks are owned by an
// external availability manager and are read-only here.
type Block struct {
	sharedDomain.BaseEntity
	title   string
	kind    BlockKind
	start   time.Time
	end     time.Time
	fullDay bool
}

// NewBlock creates a block.
func NewBlock(title string, kind BlockKind, start, end time.Time, fullDay bool) (*Block, error) {
	if end.Before(start) {
		return nil, ErrInvalidBlockRange
	}
	if kind == "" {
		kind = BlockManual
	}
	return &Block{
		BaseEntity: sharedDomain.NewBaseEntity(),
		title:      title,
		kind:       kind,
		start:      start,
		end:        end,
		fullDay:    fullDay,
	}, nil
}

func (b *Block) Title() string    { return b.title }
func (b *Block) Kind() BlockKind  { return b.kind }
func (b *Block) Start() time.Time { return b.start }
func (b *Block) End() time.Time   { return b.end }
func (b *Block) IsFullDay() bool  { return b.fullDay }

// Span returns the effective interval. Full-day blocks cover every calendar
// day from start to end regardless of time of day.
func (b *Block) Span() TimeRange {
	if b.fullDay {
		return TimeRange{
			Start: StartOfDay(b.start),
			End:   StartOfDay(b.end).AddDate(0, 0, 1),
		}
	}
	return TimeRange{Start: b.start, End: b.end}
}

// Covers reports whether the block intersects r.
func (b *Block) Covers(r TimeRange) bool {
	return b.Span().Overlaps(r)
}

// BlockState is the serialisable form of a block.
type BlockState struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Kind      BlockKind `json:"kind"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	FullDay   bool      `json:"full_day"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State snapshots the block.
func (b *Block) State() BlockState {
	return BlockState{
		ID:        b.ID(),
		Title:     b.title,
		Kind:      b.kind,
		Start:     b.start,
		End:       b.end,
		FullDay:   b.fullDay,
		CreatedAt: b.CreatedAt(),
		UpdatedAt: b.UpdatedAt(),
	}
}

// RehydrateBlock recreates a block from persisted state.
func RehydrateBlock(s BlockState) *Block {
	return &Block{
		BaseEntity: sharedDomain.RehydrateBaseEntity(s.ID, s.CreatedAt, s.UpdatedAt),
		title:      s.Title,
		kind:       s.Kind,
		start:      s.Start,
		end:        s.End,
		fullDay:    s.FullDay,
	}
}
