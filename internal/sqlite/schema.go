package sqlite

// Schema DDL. Statements are idempotent so Attach can run them against an
// existing database.
const (
	createProblems = `CREATE TABLE IF NOT EXISTS problems (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    difficulty TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`

	createCards = `CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    problem_id TEXT NOT NULL,
    card_number INTEGER NOT NULL,
    code TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    total_duration INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    last_modified TEXT NOT NULL,
    parent_card_id TEXT,
    is_solution INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (problem_id) REFERENCES problems(id) ON DELETE CASCADE,
    FOREIGN KEY (parent_card_id) REFERENCES cards(id) ON DELETE SET NULL
);`
)

// Index DDL.
const (
	idxCardsProblem  = `CREATE INDEX IF NOT EXISTS idx_cards_problem ON cards(problem_id, card_number);`
	idxCardsParent   = `CREATE INDEX IF NOT EXISTS idx_cards_parent ON cards(parent_card_id);`
	idxCardsSolution = `CREATE UNIQUE INDEX IF NOT EXISTS idx_cards_solution ON cards(problem_id) WHERE is_solution = 1;`
)

// pragmas run on every connection before the schema.
var pragmas = []string{
	`PRAGMA foreign_keys = ON;`,
	`PRAGMA busy_timeout = 5000;`,
	`PRAGMA journal_mode = WAL;`,
}

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createProblems,
	createCards,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxCardsProblem,
	idxCardsParent,
	idxCardsSolution,
}

// cardColumns is the column list every card query selects, in scanCard order.
const cardColumns = `id, problem_id, card_number, code, language, notes, status,
    total_duration, created_at, last_modified, parent_card_id, is_solution`
