package remote

import (
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type appointmentModel struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID             `bun:"id,pk,type:uuid"`
	Title        string                `bun:"title,notnull"`
	Type         string                `bun:"type,notnull"`
	Status       string                `bun:"status,notnull"`
	ClientID     string                `bun:"client_id,notnull"`
	ClientName   string                `bun:"client_name,notnull"`
	ClientEmail  string                `bun:"client_email,notnull"`
	TrainerID    string                `bun:"trainer_id,notnull"`
	StartTime    time.Time             `bun:"start_time,notnull"`
	EndTime      time.Time             `bun:"end_time,notnull"`
	Source       string                `bun:"source,notnull"`
	SeriesID     *uuid.UUID            `bun:"series_id,type:uuid"`
	CancelReason string                `bun:"cancel_reason,notnull"`
	CancelDetail string                `bun:"cancel_detail,notnull"`
	Notes        string                `bun:"notes,notnull"`
	History      []domain.HistoryEntry `bun:"history,type:jsonb,notnull"`
	CreatedAt    time.Time             `bun:"created_at,notnull"`
	UpdatedAt    time.Time             `bun:"updated_at,notnull"`
	DeletedAt    time.Time             `bun:"deleted_at,soft_delete,nullzero"`
}

func newAppointmentModel(a *domain.Appointment) *appointmentModel {
	s := a.State()
	history := s.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	return &appointmentModel{
		ID:           s.ID,
		Title:        s.Title,
		Type:         string(s.Type),
		Status:       string(s.Status),
		ClientID:     s.Client.ID,
		ClientName:   s.Client.Name,
		ClientEmail:  s.Client.Email,
		TrainerID:    s.TrainerID,
		StartTime:    s.Start.UTC(),
		EndTime:      s.End.UTC(),
		Source:       string(s.Source),
		SeriesID:     s.SeriesID,
		CancelReason: string(s.CancelReason),
		CancelDetail: s.CancelDetail,
		Notes:        s.Notes,
		History:      history,
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
}

func (m *appointmentModel) toDomain() *domain.Appointment {
	return domain.RehydrateAppointment(domain.AppointmentState{
		ID:           m.ID,
		Title:        m.Title,
		Type:         domain.AppointmentType(m.Type),
		Status:       domain.Status(m.Status),
		Client:       domain.Client{ID: m.ClientID, Name: m.ClientName, Email: m.ClientEmail},
		TrainerID:    m.TrainerID,
		Start:        m.StartTime,
		End:          m.EndTime,
		Source:       domain.Source(m.Source),
		SeriesID:     m.SeriesID,
		CancelReason: domain.CancelReason(m.CancelReason),
		CancelDetail: m.CancelDetail,
		Notes:        m.Notes,
		History:      m.History,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	})
}

type blockModel struct {
	bun.BaseModel `bun:"table:availability_blocks"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Title     string    `bun:"title,notnull"`
	Kind      string    `bun:"kind,notnull"`
	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`
	FullDay   bool      `bun:"full_day,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (m *blockModel) toDomain() *domain.Block {
	return domain.RehydrateBlock(domain.BlockState{
		ID:        m.ID,
		Title:     m.Title,
		Kind:      domain.BlockKind(m.Kind),
		Start:     m.StartTime,
		End:       m.EndTime,
		FullDay:   m.FullDay,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
}

type workingHoursModel struct {
	bun.BaseModel `bun:"table:working_hours"`

	Weekday    int16 `bun:"weekday,pk"`
	FromMinute int   `bun:"from_minute,pk"`
	ToMinute   int   `bun:"to_minute,notnull"`
}

func hoursFromModels(rows []workingHoursModel) (*domain.WorkingHours, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	days := make(map[time.Weekday][]domain.ClockRange)
	for _, row := range rows {
		day := time.Weekday(row.Weekday)
		days[day] = append(days[day], domain.ClockRange{From: row.FromMinute, To: row.ToMinute})
	}
	return domain.NewWorkingHours(days)
}

type restConfigModel struct {
	bun.BaseModel `bun:"table:rest_config"`

	ID             int16 `bun:"id,pk"`
	Enabled        bool  `bun:"enabled,notnull"`
	MinimumMinutes int   `bun:"minimum_minutes,notnull"`
	AllowOverride  bool  `bun:"allow_override,notnull"`
}

func (m *restConfigModel) toDomain() (*domain.RestConfig, error) {
	return domain.NewRestConfig(m.Enabled, m.MinimumMinutes, m.AllowOverride)
}
