// Package routing assigns enriched tickets to managers under skill, distance
// and load constraints. A Router is scoped to one batch run: it owns the
// per-manager cumulative load and must be driven sequentially so every
// decision observes all prior ones.
package routing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/freedomfin/fireroute/pkg/geo"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
)

// Sentinel routing failures.
var (
	// ErrNoCandidates means no manager survived even full skill relaxation.
	ErrNoCandidates = errors.New("no candidates")
	// ErrNoTicketCoordinates means the ticket cannot be geo-routed.
	ErrNoTicketCoordinates = errors.New("ticket has no coordinates")
)

// Managers start with their ingested backlog weighted by the default
// difficulty.
const initialLoadFactor = 1.15

// Skill requirement keys, in relaxation order.
const (
	reqLanguage = "language"
	reqPosition = "position"
	reqVIP      = "vip"
)

var relaxationOrder = []string{reqLanguage, reqPosition, reqVIP}

var relaxationLabels = map[string]string{
	reqLanguage: "язык (KZ/ENG)",
	reqPosition: "должность (главный специалист)",
	reqVIP:      "навык VIP",
}

// Request is one ticket's routing input.
type Request struct {
	TicketID      uuid.UUID
	Segment       models.Segment
	Type          models.TicketType
	LanguageLabel models.LanguageLabel
	Latitude      *float64
	Longitude     *float64
	PriorityFinal float64
}

// Decision is one successful assignment.
type Decision struct {
	Manager        *models.Manager
	Office         *models.Office
	DistanceKm     *float64
	Difficulty     float64
	LoadAfter      float64
	Relaxations    []string
	GeoFilterNote  string
	Explanation    string
	CandidatesSeen int
	CandidatesLeft int
}

// Router holds the batch-scoped candidate set and load table.
type Router struct {
	managers []*models.Manager
	offices  map[uuid.UUID]*models.Office
	loads    map[uuid.UUID]float64
}

// NewRouter builds a router over the active roster. Managers are expected in
// ascending id order for deterministic tie-breaking.
func NewRouter(managers []*models.Manager, offices []*models.Office) *Router {
	officeIdx := make(map[uuid.UUID]*models.Office, len(offices))
	for _, o := range offices {
		officeIdx[o.ID] = o
	}
	loads := make(map[uuid.UUID]float64, len(managers))
	for _, m := range managers {
		loads[m.ID] = float64(m.CSVLoad) * initialLoadFactor
	}
	return &Router{managers: managers, offices: officeIdx, loads: loads}
}

// Load returns a manager's current cumulative load.
func (r *Router) Load(id uuid.UUID) float64 { return r.loads[id] }

// Loads returns a copy of the full load table.
func (r *Router) Loads() map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(r.loads))
	for k, v := range r.loads {
		out[k] = v
	}
	return out
}

// Route picks a manager for one ticket and bumps their load. Spam never
// reaches here; the orchestrator short-circuits it.
func (r *Router) Route(req Request) (*Decision, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return nil, ErrNoTicketCoordinates
	}
	if len(r.managers) == 0 {
		return nil, ErrNoCandidates
	}

	eligible, relaxations := r.filterBySkill(req)
	if len(eligible) == 0 {
		return nil, ErrNoCandidates
	}

	ticketPoint := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	admitted, geoNote := r.filterByGeo(ticketPoint, eligible)

	best := r.pickLeastLoaded(admitted)
	difficulty := models.TypeDifficulty(req.Type)
	r.loads[best.manager.ID] += difficulty
	loadAfter := r.loads[best.manager.ID]

	d := &Decision{
		Manager:        best.manager,
		Office:         best.office,
		Difficulty:     difficulty,
		LoadAfter:      loadAfter,
		Relaxations:    relaxations,
		GeoFilterNote:  geoNote,
		CandidatesSeen: len(eligible),
		CandidatesLeft: len(admitted),
	}
	if best.hasDistance {
		dist := best.distanceKm
		d.DistanceKm = &dist
	}
	d.Explanation = r.explain(req, d)
	return d, nil
}

type candidate struct {
	manager     *models.Manager
	office      *models.Office
	distanceKm  float64
	hasDistance bool
}

// filterBySkill composes requirements from ticket attributes and relaxes
// them cumulatively until candidates remain.
func (r *Router) filterBySkill(req Request) ([]*models.Manager, []string) {
	var requirements []string
	if req.Segment == models.SegmentVIP || req.Segment == models.SegmentPriority {
		requirements = append(requirements, reqVIP)
	}
	if req.Type == models.TypeDataChange {
		requirements = append(requirements, reqPosition)
	}
	if req.LanguageLabel == models.LanguageKZ || req.LanguageLabel == models.LanguageENG {
		requirements = append(requirements, reqLanguage)
	}

	if eligible := r.applyRequirements(requirements, req.LanguageLabel); len(eligible) > 0 {
		return eligible, nil
	}

	dropped := make(map[string]bool, len(relaxationOrder))
	var applied []string
	for _, drop := range relaxationOrder {
		dropped[drop] = true
		reduced := requirements[:0:0]
		for _, q := range requirements {
			if !dropped[q] {
				reduced = append(reduced, q)
			}
		}
		if contains(requirements, drop) {
			applied = append(applied, relaxationLabels[drop])
		}
		if eligible := r.applyRequirements(reduced, req.LanguageLabel); len(eligible) > 0 {
			return eligible, applied
		}
	}
	return nil, applied
}

func (r *Router) applyRequirements(requirements []string, lang models.LanguageLabel) []*models.Manager {
	var out []*models.Manager
	for _, m := range r.managers {
		if contains(requirements, reqVIP) && !m.HasSkill("VIP") {
			continue
		}
		if contains(requirements, reqPosition) && m.Position != models.PositionChiefSpecialist {
			continue
		}
		if contains(requirements, reqLanguage) && !m.HasSkill(string(lang)) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// filterByGeo admits managers within max(1.5 × d_min, 50 km) of the ticket.
// When no candidate office has coordinates the filter is skipped with a note.
func (r *Router) filterByGeo(ticket geo.Point, eligible []*models.Manager) ([]candidate, string) {
	var withDistance []candidate
	var withoutCoords []candidate
	for _, m := range eligible {
		c := candidate{manager: m}
		if m.OfficeID != nil {
			c.office = r.offices[*m.OfficeID]
		}
		if c.office != nil && c.office.HasCoordinates() {
			c.distanceKm = geo.HaversineKm(ticket,
				geo.Point{Lat: *c.office.Latitude, Lon: *c.office.Longitude})
			c.hasDistance = true
			withDistance = append(withDistance, c)
		} else {
			withoutCoords = append(withoutCoords, c)
		}
	}

	if len(withDistance) == 0 {
		return withoutCoords, "Координаты офисов не найдены — гео-фильтрация пропущена"
	}

	sort.SliceStable(withDistance, func(i, j int) bool {
		return withDistance[i].distanceKm < withDistance[j].distanceKm
	})
	minDist := withDistance[0].distanceKm
	maxAllowed := math.Max(minDist*1.5, 50)

	var admitted []candidate
	for _, c := range withDistance {
		if c.distanceKm <= maxAllowed {
			admitted = append(admitted, c)
		}
	}
	note := fmt.Sprintf("Ближайший офис: %s (%.0f км). Порог: %.0f км. Прошли: %d/%d менеджеров.",
		withDistance[0].office.Name, minDist, maxAllowed, len(admitted), len(withDistance))
	return admitted, note
}

// pickLeastLoaded breaks load ties by distance ascending, then manager id.
func (r *Router) pickLeastLoaded(admitted []candidate) candidate {
	best := admitted[0]
	for _, c := range admitted[1:] {
		cl, bl := r.loads[c.manager.ID], r.loads[best.manager.ID]
		switch {
		case cl < bl:
			best = c
		case cl == bl:
			cd, bd := math.Inf(1), math.Inf(1)
			if c.hasDistance {
				cd = c.distanceKm
			}
			if best.hasDistance {
				bd = best.distanceKm
			}
			if cd < bd || (cd == bd && c.manager.ID.String() < best.manager.ID.String()) {
				best = c
			}
		}
	}
	return best
}

func (r *Router) explain(req Request, d *Decision) string {
	office := "?"
	if d.Office != nil {
		office = d.Office.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Назначен менеджеру %s (%s, %s). Приоритет тикета: %.2f. Тип: %s (сложность %.2f). Нагрузка менеджера после назначения: %.2f.",
		d.Manager.FullName, d.Manager.Position, office, req.PriorityFinal, req.Type, d.Difficulty, d.LoadAfter)
	if len(d.Relaxations) > 0 {
		fmt.Fprintf(&b, " Сняты требования: %s.", strings.Join(d.Relaxations, ", "))
	}
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
