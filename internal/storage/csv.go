package storage

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// csvHeader is the canonical column set, written on every save. Older
// files may lack trailing columns; Load maps columns by name, so legacy
// records read back without migration scripts.
var csvHeader = []string{
	"Date", "Entry Time", "Symbol", "Strategy", "Strategy ID",
	"Short Call", "Long Call", "Short Put", "Long Put",
	"Credit Collected", "Buying Power", "Profit Target",
	"Status", "Exit Time", "Exit P/L", "Exit Reason", "Notes", "IV Rank",
}

// CSVStore is the persistent ledger. The whole book lives in memory and
// the file is rewritten atomically (temp file + rename) after every
// mutation, so a crash never leaves a half-written record.
type CSVStore struct {
	book   *MemoryStore
	path   string
	loc    *time.Location
	logger *log.Logger

	// saveMu serializes mutate-then-save sequences so the file on disk
	// always reflects a single mutation order.
	saveMu sync.Mutex
}

// Ensure CSVStore implements Interface at compile time.
var _ Interface = (*CSVStore)(nil)

// NewCSVStore creates a CSV-backed ledger. Entry and exit times are
// rendered in loc. The file is created on first save.
func NewCSVStore(path string, loc *time.Location, logger *log.Logger) *CSVStore {
	if logger == nil {
		logger = log.Default()
	}
	return &CSVStore{
		book:   NewMemoryStore(),
		path:   path,
		loc:    loc,
		logger: logger,
	}
}

// AddPosition inserts a position and persists the book.
func (c *CSVStore) AddPosition(p *models.Position) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.book.AddPosition(p); err != nil {
		return err
	}
	return c.save()
}

// UpdatePosition replaces a position and persists the book.
func (c *CSVStore) UpdatePosition(p *models.Position) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.book.UpdatePosition(p); err != nil {
		return err
	}
	return c.save()
}

// ClosePosition transitions a position to CLOSED and persists the book.
func (c *CSVStore) ClosePosition(id string, when time.Time, pl float64, reason, note string) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.book.ClosePosition(id, when, pl, reason, note); err != nil {
		return err
	}
	return c.save()
}

// ExpirePosition transitions a position to EXPIRED and persists the book.
func (c *CSVStore) ExpirePosition(id string, when time.Time, pl float64, reason, note string) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.book.ExpirePosition(id, when, pl, reason, note); err != nil {
		return err
	}
	return c.save()
}

// AppendNote attaches a note to an open position and persists the book.
func (c *CSVStore) AppendNote(id, note string) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.book.AppendNote(id, note); err != nil {
		return err
	}
	return c.save()
}

// GetPositionByID returns a copy of the position, if present.
func (c *CSVStore) GetPositionByID(id string) (*models.Position, bool) {
	return c.book.GetPositionByID(id)
}

// GetOpenPositions returns copies of all OPEN positions.
func (c *CSVStore) GetOpenPositions() []*models.Position {
	return c.book.GetOpenPositions()
}

// GetAllPositions returns copies of every position.
func (c *CSVStore) GetAllPositions() []*models.Position {
	return c.book.GetAllPositions()
}

// save writes the whole book to a temp file and renames it over the
// target. Callers hold saveMu.
func (c *CSVStore) save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trades-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for _, p := range c.book.GetAllPositions() {
		if err := w.Write(c.encodeRow(p)); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("writing position %s: %w", p.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("replacing %s: %w", c.path, err)
	}
	return nil
}

func (c *CSVStore) encodeRow(p *models.Position) []string {
	entry := p.EntryDate.In(c.loc)
	exitTime, exitPL := "", ""
	if p.Status.Terminal() {
		exitTime = p.ExitDate.In(c.loc).Format("15:04:05")
		exitPL = formatFloat(p.ExitPL)
	}
	return []string{
		entry.Format("2006-01-02"),
		entry.Format("15:04:05"),
		p.Symbol,
		p.Strategy,
		p.StrategyID,
		p.Legs.ShortCall.Symbol,
		p.Legs.LongCall.Symbol,
		p.Legs.ShortPut.Symbol,
		p.Legs.LongPut.Symbol,
		formatFloat(p.Credit),
		formatFloat(p.BuyingPower),
		formatFloat(p.ProfitTarget),
		string(p.Status),
		exitTime,
		exitPL,
		p.ExitReason,
		p.Notes,
		formatFloat(p.IVRank),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Load replaces the in-memory book from the CSV file. A missing file is an
// empty ledger, not an error. Leg strikes and types are re-derived from
// the persisted symbols here, once, so the rest of the program never
// parses symbols.
func (c *CSVStore) Load() error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		c.book.replaceAll(make(map[string]*models.Position))
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // legacy files have fewer columns

	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.path, err)
	}
	if len(records) == 0 {
		c.book.replaceAll(make(map[string]*models.Position))
		return nil
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"Date", "Entry Time", "Symbol", "Strategy",
		"Short Call", "Long Call", "Short Put", "Long Put", "Credit Collected", "Status"} {
		if _, ok := cols[required]; !ok {
			return fmt.Errorf("%s: missing column %q", c.path, required)
		}
	}

	positions := make(map[string]*models.Position, len(records)-1)
	for i, row := range records[1:] {
		p, err := c.decodeRow(cols, row)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", c.path, i+2, err)
		}
		if _, dup := positions[p.ID]; dup {
			return fmt.Errorf("%s row %d: duplicate position id %s", c.path, i+2, p.ID)
		}
		positions[p.ID] = p
	}

	c.book.replaceAll(positions)
	c.logger.Printf("Loaded %d positions from %s", len(positions), c.path)
	return nil
}

func (c *CSVStore) decodeRow(cols map[string]int, row []string) (*models.Position, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	floatField := func(name string) (float64, error) {
		s := field(name)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}

	entry, err := time.ParseInLocation("2006-01-02 15:04:05",
		field("Date")+" "+field("Entry Time"), c.loc)
	if err != nil {
		return nil, fmt.Errorf("parsing entry time: %w", err)
	}

	legs, err := decodeLegs(
		field("Short Call"), field("Long Call"),
		field("Short Put"), field("Long Put"))
	if err != nil {
		return nil, err
	}

	credit, err := floatField("Credit Collected")
	if err != nil {
		return nil, fmt.Errorf("parsing credit: %w", err)
	}
	legs.Credit = credit

	bp, err := floatField("Buying Power")
	if err != nil {
		return nil, fmt.Errorf("parsing buying power: %w", err)
	}
	if bp == 0 {
		bp = (legs.Width() - credit) * 100
	}
	profitTarget, err := floatField("Profit Target")
	if err != nil {
		return nil, fmt.Errorf("parsing profit target: %w", err)
	}
	ivRank, err := floatField("IV Rank")
	if err != nil {
		return nil, fmt.Errorf("parsing iv rank: %w", err)
	}

	status := models.Status(field("Status"))
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", field("Status"))
	}

	strategyID := field("Strategy ID")
	if strategyID == "" {
		// Pre-Strategy-ID record: derive a stable prefix from the name.
		strategyID = strings.ToUpper(strings.ReplaceAll(field("Strategy"), " ", "-"))
	}

	p := &models.Position{
		ID:           strategyID + "-" + entry.Format("20060102"),
		Symbol:       field("Symbol"),
		Strategy:     field("Strategy"),
		StrategyID:   strategyID,
		Legs:         legs,
		Credit:       credit,
		BuyingPower:  bp,
		ProfitTarget: profitTarget,
		Status:       status,
		EntryDate:    entry,
		Notes:        field("Notes"),
		IVRank:       ivRank,
	}

	if status.Terminal() {
		exitTime := field("Exit Time")
		if exitTime == "" {
			return nil, fmt.Errorf("terminal position %s missing exit time", p.ID)
		}
		exit, err := time.ParseInLocation("2006-01-02 15:04:05",
			field("Date")+" "+exitTime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing exit time: %w", err)
		}
		p.ExitDate = exit
		if p.ExitPL, err = floatField("Exit P/L"); err != nil {
			return nil, fmt.Errorf("parsing exit p/l: %w", err)
		}
		p.ExitReason = field("Exit Reason")
		if p.ExitReason == "" {
			// Pre-Exit-Reason record.
			p.ExitReason = "unspecified"
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if status == models.StatusOpen && profitTarget == 0 {
		c.logger.Printf("WARNING: open position %s has no profit target on record", p.ID)
	}
	return p, nil
}

// decodeLegs rebuilds the leg set from persisted symbols, checking each
// symbol's type against the column it came from.
func decodeLegs(shortCall, longCall, shortPut, longPut string) (models.LegSet, error) {
	mk := func(symbol string, wantType models.OptionType, side models.LegSide) (models.Leg, error) {
		_, _, typ, strike, err := models.ParseOptionSymbol(symbol)
		if err != nil {
			return models.Leg{}, err
		}
		if typ != wantType {
			return models.Leg{}, fmt.Errorf("symbol %s is a %s in a %s column", symbol, typ, wantType)
		}
		return models.Leg{Symbol: symbol, Strike: strike, Type: typ, Side: side}, nil
	}

	var legs models.LegSet
	var err error
	if legs.ShortCall, err = mk(shortCall, models.OptionTypeCall, models.SideShort); err != nil {
		return models.LegSet{}, err
	}
	if legs.LongCall, err = mk(longCall, models.OptionTypeCall, models.SideLong); err != nil {
		return models.LegSet{}, err
	}
	if legs.ShortPut, err = mk(shortPut, models.OptionTypePut, models.SideShort); err != nil {
		return models.LegSet{}, err
	}
	if legs.LongPut, err = mk(longPut, models.OptionTypePut, models.SideLong); err != nil {
		return models.LegSet{}, err
	}
	return legs, nil
}
