// Package ingest parses the three upload CSVs (offices, managers, tickets)
// into records. Headers are matched by substring in Russian or English, so
// exports from different CRM versions load without renaming columns.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

var positionMap = map[string]models.Position{
	"специалист":         models.PositionSpecialist,
	"ведущий специалист": models.PositionLeadSpecialist,
	"главный специалист": models.PositionChiefSpecialist,
}

var countryNormalize = map[string]string{
	"kazakhstan": "Казахстан",
	"кз":         "Казахстан",
	"kz":         "Казахстан",
}

// OfficeRow is one parsed row of the offices CSV. Geocoding happens later.
type OfficeRow struct {
	Name    string
	Address string
}

// ManagerRow is one parsed row of the managers CSV. The office is referenced
// by name; id resolution happens at insert time.
type ManagerRow struct {
	FullName   string
	Position   models.Position
	OfficeName string
	Skills     []string
	CSVLoad    int
}

// ParseOffices reads the offices CSV. Rows without an office name are
// dropped.
func ParseOffices(data []byte) ([]OfficeRow, error) {
	rows, header, err := readCSV(data)
	if err != nil {
		return nil, err
	}
	cols := mapColumns(header, map[string][]string{
		"office":  {"офис", "office"},
		"address": {"адрес", "address"},
	})
	if _, ok := cols["office"]; !ok && len(header) > 0 {
		cols["office"] = 0 // first column by convention
	}

	var out []OfficeRow
	for _, row := range rows {
		name := cell(row, cols, "office")
		if name == "" {
			continue
		}
		out = append(out, OfficeRow{Name: name, Address: cell(row, cols, "address")})
	}
	return out, nil
}

// ParseManagers reads the managers CSV. Rows without a name are dropped;
// unknown positions default to specialist.
func ParseManagers(data []byte) ([]ManagerRow, error) {
	rows, header, err := readCSV(data)
	if err != nil {
		return nil, err
	}
	cols := mapColumns(header, map[string][]string{
		"full_name": {"фио", "имя", "name"},
		"position":  {"должность", "position"},
		"office":    {"офис", "office"},
		"skills":    {"навык", "skill"},
		"csv_load":  {"количество", "обращен", "load"},
	})

	var out []ManagerRow
	for _, row := range rows {
		fullName := cell(row, cols, "full_name")
		if fullName == "" {
			continue
		}
		out = append(out, ManagerRow{
			FullName:   fullName,
			Position:   parsePosition(cell(row, cols, "position")),
			OfficeName: cell(row, cols, "office"),
			Skills:     parseSkills(cell(row, cols, "skills")),
			CSVLoad:    safeInt(cell(row, cols, "csv_load")),
		})
	}
	return out, nil
}

// ParseTickets reads the tickets CSV into Ticket records for one batch.
// GUID repeat counts are computed over the whole file; age is derived from
// the birth date as of now.
func ParseTickets(data []byte, batchID uuid.UUID, now time.Time) ([]*models.Ticket, error) {
	rows, header, err := readCSV(data)
	if err != nil {
		return nil, err
	}
	cols := mapColumns(header, map[string][]string{
		"guid":        {"guid"},
		"gender":      {"пол", "gender"},
		"birth_date":  {"рождени", "birth", "дата"},
		"description": {"описание", "description"},
		"attachments": {"вложени", "attach"},
		"segment":     {"сегмент", "segment"},
		"country":     {"страна", "country"},
		"region":      {"область", "region"},
		"city":        {"населённый", "населенный", "город", "city"},
		"street":      {"улица", "street"},
		"house":       {"дом", "house"},
	})

	guidCounts := make(map[string]int)
	for _, row := range rows {
		if g := cell(row, cols, "guid"); g != "" {
			guidCounts[g]++
		}
	}

	tickets := make([]*models.Ticket, 0, len(rows))
	for idx, row := range rows {
		guid := cell(row, cols, "guid")
		birthDate := parseDate(cell(row, cols, "birth_date"), now)
		description := cell(row, cols, "description")

		t := &models.Ticket{
			ID:            uuid.New(),
			BatchID:       batchID,
			CSVRowIndex:   idx,
			GUID:          guid,
			Gender:        cell(row, cols, "gender"),
			BirthDate:     birthDate,
			Age:           computeAge(birthDate, now),
			Segment:       parseSegment(cell(row, cols, "segment")),
			Description:   description,
			Attachments:   parseAttachments(cell(row, cols, "attachments")),
			Country:       normalizeCountry(cell(row, cols, "country")),
			Region:        cell(row, cols, "region"),
			City:          cell(row, cols, "city"),
			Street:        cell(row, cols, "street"),
			House:         cell(row, cols, "house"),
			AddressStatus: models.AddressUnknown,
			Status:        models.StatusIngested,
			TextLength:    utf8.RuneCountInString(description),
			IDCountOfUser: guidCounts[guid],
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// readCSV decodes the file and returns data rows plus the trimmed header.
// Ragged rows are tolerated; missing cells read as empty.
func readCSV(data []byte) ([][]string, []string, error) {
	r := csv.NewReader(bytes.NewReader(decode(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("read csv: empty file")
	}
	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return records[1:], header, nil
}

// decode strips a UTF-8 BOM and falls back to Windows-1251 for legacy CRM
// exports that are not valid UTF-8.
func decode(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// mapColumns resolves header columns to canonical names by substring match,
// first hit wins.
func mapColumns(header []string, wanted map[string][]string) map[string]int {
	cols := make(map[string]int)
	for i, col := range header {
		c := strings.ToLower(col)
		for name, needles := range wanted {
			if _, taken := cols[name]; taken {
				continue
			}
			for _, needle := range needles {
				if strings.Contains(c, needle) {
					cols[name] = i
					break
				}
			}
		}
	}
	return cols
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"01/02/2006 15:04",
	"01/02/2006",
}

// parseDate tries the known layouts, then a loose three-number heuristic.
// Dates in a future year are clamped into the current year; birth dates from
// the future are data-entry noise, not information.
func parseDate(s string, now time.Time) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		d, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if d.Year() > now.Year() {
			d = time.Date(now.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &d
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	var nums []int
	for _, p := range parts {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		nums = append(nums, n)
	}
	if len(nums) < 3 {
		return nil
	}
	var year, month, day int
	if nums[0] > 31 {
		year, month, day = nums[0], nums[1], nums[2]
	} else {
		day, month, year = nums[0], nums[1], nums[2]
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 {
		return nil
	}
	if year > now.Year() {
		d := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return &d
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &d
}

func computeAge(birthDate *time.Time, now time.Time) *int {
	if birthDate == nil {
		return nil
	}
	age := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return &age
}

func parsePosition(s string) models.Position {
	if p, ok := positionMap[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p
	}
	return models.PositionSpecialist
}

func parseSkills(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, sk := range strings.Split(s, ",") {
		if sk = strings.TrimSpace(sk); sk != "" {
			out = append(out, strings.ToUpper(sk))
		}
	}
	return out
}

func parseSegment(s string) models.Segment {
	switch strings.ReplaceAll(strings.ToLower(s), " ", "") {
	case "vip":
		return models.SegmentVIP
	case "priority", "prioritet", "приоритет":
		return models.SegmentPriority
	default:
		return models.SegmentMass
	}
}

func parseAttachments(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func normalizeCountry(s string) string {
	if c, ok := countryNormalize[strings.ToLower(s)]; ok {
		return c
	}
	return s
}

func safeInt(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}
