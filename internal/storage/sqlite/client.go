package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		brand TEXT NOT NULL,
		credits INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS concepts (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		phrase TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_concepts_account ON concepts(account_id);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		concept_id TEXT NOT NULL,
		text TEXT NOT NULL,
		funnel_stage TEXT NOT NULL,
		group_id TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_questions_concept ON questions(concept_id);
	CREATE INDEX IF NOT EXISTS idx_questions_group ON questions(group_id);

	CREATE TABLE IF NOT EXISTS check_results (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		concept_id TEXT NOT NULL,
		question_text TEXT NOT NULL,
		provider TEXT NOT NULL,
		checked_at INTEGER NOT NULL,
		domain_cited INTEGER NOT NULL,
		citation_position INTEGER,
		total_citations INTEGER NOT NULL DEFAULT 0,
		brand_mentioned INTEGER NOT NULL,
		mentioned_brands TEXT,
		response TEXT,
		citations TEXT,
		search_results TEXT,
		fan_out_queries TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_results_concept ON check_results(concept_id, checked_at);
	CREATE INDEX IF NOT EXISTS idx_results_question ON check_results(question_id, provider, checked_at);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		status TEXT NOT NULL,
		providers TEXT NOT NULL,
		total_questions INTEGER NOT NULL,
		processed_questions INTEGER NOT NULL DEFAULT 0,
		successful_checks INTEGER NOT NULL DEFAULT 0,
		failed_checks INTEGER NOT NULL DEFAULT 0,
		credits_refunded INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		retry_failed_from_run_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_account ON batch_runs(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON batch_runs(status);

	CREATE TABLE IF NOT EXISTS check_failures (
		run_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		PRIMARY KEY (run_id, question_id, provider),
		FOREIGN KEY (run_id) REFERENCES batch_runs(id) ON DELETE CASCADE
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertAccount(account *models.Account) error {
	query := `
		INSERT INTO accounts (id, domain, brand, credits)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			brand = excluded.brand
	`

	_, err := c.db.Exec(query, account.ID, account.Domain, account.Brand, account.Credits)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	return nil
}

func (c *Client) GetAccount(id string) (*models.Account, error) {
	query := `SELECT id, domain, brand, credits FROM accounts WHERE id = ?`

	var account models.Account
	err := c.db.QueryRow(query, id).Scan(&account.ID, &account.Domain, &account.Brand, &account.Credits)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// DeductCredits atomically reduces an account's balance, refusing to go
// negative. Returns false when the balance is insufficient.
func (c *Client) DeductCredits(accountID string, amount int) (bool, error) {
	res, err := c.db.Exec(
		`UPDATE accounts SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		amount, accountID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to deduct credits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (c *Client) RefundCredits(accountID string, amount int) error {
	_, err := c.db.Exec(`UPDATE accounts SET credits = credits + ? WHERE id = ?`, amount, accountID)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	logger.Debug("Credits refunded", zap.String("account_id", accountID), zap.Int("amount", amount))
	return nil
}

func (c *Client) InsertConcept(concept *models.Concept) error {
	query := `INSERT INTO concepts (id, account_id, phrase, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, concept.ID, concept.AccountID, concept.Phrase, concept.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert concept: %w", err)
	}

	return nil
}

func (c *Client) DeleteConcept(id string) error {
	_, err := c.db.Exec(`DELETE FROM concepts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete concept: %w", err)
	}

	return nil
}

func (c *Client) InsertQuestion(question *models.Question) error {
	query := `
		INSERT INTO questions (id, concept_id, text, funnel_stage, group_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var groupID interface{}
	if question.GroupID != "" {
		groupID = question.GroupID
	}

	_, err := c.db.Exec(
		query,
		question.ID,
		question.ConceptID,
		question.Text,
		string(question.FunnelStage),
		groupID,
		question.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}

	return nil
}

func (c *Client) UpdateQuestionText(id, text string) error {
	_, err := c.db.Exec(`UPDATE questions SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("failed to update question text: %w", err)
	}

	return nil
}

// ListConcepts returns all of an account's concepts with their questions
// embedded, ordered by creation time.
func (c *Client) ListConcepts(accountID string) ([]models.Concept, error) {
	rows, err := c.db.Query(
		`SELECT id, account_id, phrase, created_at FROM concepts WHERE account_id = ? ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	var concepts []models.Concept
	for rows.Next() {
		var concept models.Concept
		var createdAt int64

		err := rows.Scan(&concept.ID, &concept.AccountID, &concept.Phrase, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		concept.CreatedAt = time.Unix(createdAt, 0)
		concepts = append(concepts, concept)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate concepts: %w", err)
	}

	for i := range concepts {
		questions, err := c.listQuestions(concepts[i].ID)
		if err != nil {
			return nil, err
		}
		concepts[i].Questions = questions
	}

	return concepts, nil
}

func (c *Client) listQuestions(conceptID string) ([]models.Question, error) {
	rows, err := c.db.Query(
		`SELECT id, concept_id, text, funnel_stage, COALESCE(group_id, ''), created_at
		 FROM questions WHERE concept_id = ? ORDER BY created_at`,
		conceptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var stage string
		var createdAt int64

		err := rows.Scan(&q.ID, &q.ConceptID, &q.Text, &stage, &q.GroupID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		q.FunnelStage = models.FunnelStage(stage)
		q.CreatedAt = time.Unix(createdAt, 0)
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func (c *Client) InsertCheckResult(result *models.CheckResult) error {
	mentionedJSON, _ := json.Marshal(result.MentionedBrands)
	citationsJSON, _ := json.Marshal(result.Citations)
	searchJSON, _ := json.Marshal(result.SearchResults)
	fanOutJSON, _ := json.Marshal(result.FanOutQueries)

	domainCited := 0
	if result.DomainCited {
		domainCited = 1
	}
	brandMentioned := 0
	if result.BrandMentioned {
		brandMentioned = 1
	}

	query := `
		INSERT INTO check_results (id, question_id, concept_id, question_text, provider, checked_at,
			domain_cited, citation_position, total_citations, brand_mentioned, mentioned_brands,
			response, citations, search_results, fan_out_queries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		result.ID,
		result.QuestionID,
		result.ConceptID,
		result.QuestionText,
		string(result.Provider),
		result.CheckedAt.Unix(),
		domainCited,
		result.CitationPosition,
		result.TotalCitations,
		brandMentioned,
		string(mentionedJSON),
		result.Response,
		string(citationsJSON),
		string(searchJSON),
		string(fanOutJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}

	logger.Debug("Check result recorded",
		zap.String("question_id", result.QuestionID),
		zap.String("provider", string(result.Provider)),
		zap.Bool("domain_cited", result.DomainCited),
	)

	return nil
}

// GetRecentResultsByConcept returns up to limit most-recent check results
// across all of a concept's questions and providers, newest first.
func (c *Client) GetRecentResultsByConcept(conceptID string, limit int) ([]models.CheckResult, error) {
	query := `
		SELECT id, question_id, concept_id, question_text, provider, checked_at,
			domain_cited, citation_position, total_citations, brand_mentioned, mentioned_brands,
			response, citations, search_results, fan_out_queries
		FROM check_results
		WHERE concept_id = ?
		ORDER BY checked_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get check results: %w", err)
	}
	defer rows.Close()

	var results []models.CheckResult
	for rows.Next() {
		result, err := scanCheckResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return results, rows.Err()
}

func scanCheckResult(rows *sql.Rows) (*models.CheckResult, error) {
	var result models.CheckResult
	var provider string
	var checkedAt int64
	var domainCited, brandMentioned int
	var citationPosition sql.NullInt64
	var mentionedJSON, citationsJSON, searchJSON, fanOutJSON sql.NullString

	err := rows.Scan(
		&result.ID,
		&result.QuestionID,
		&result.ConceptID,
		&result.QuestionText,
		&provider,
		&checkedAt,
		&domainCited,
		&citationPosition,
		&result.TotalCitations,
		&brandMentioned,
		&mentionedJSON,
		&result.Response,
		&citationsJSON,
		&searchJSON,
		&fanOutJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	result.Provider = models.Provider(provider)
	result.CheckedAt = time.Unix(checkedAt, 0)
	result.DomainCited = domainCited == 1
	result.BrandMentioned = brandMentioned == 1
	if citationPosition.Valid {
		pos := int(citationPosition.Int64)
		result.CitationPosition = &pos
	}
	if mentionedJSON.Valid {
		json.Unmarshal([]byte(mentionedJSON.String), &result.MentionedBrands)
	}
	if citationsJSON.Valid {
		json.Unmarshal([]byte(citationsJSON.String), &result.Citations)
	}
	if searchJSON.Valid {
		json.Unmarshal([]byte(searchJSON.String), &result.SearchResults)
	}
	if fanOutJSON.Valid {
		json.Unmarshal([]byte(fanOutJSON.String), &result.FanOutQueries)
	}

	return &result, nil
}

func (c *Client) InsertBatchRun(run *models.BatchRun) error {
	providersJSON, _ := json.Marshal(run.Providers)

	query := `
		INSERT INTO batch_runs (id, account_id, status, providers, total_questions,
			processed_questions, successful_checks, failed_checks, credits_refunded,
			error_message, retry_failed_from_run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.AccountID,
		string(run.Status),
		string(providersJSON),
		run.TotalQuestions,
		run.ProcessedQuestions,
		run.SuccessfulChecks,
		run.FailedChecks,
		run.CreditsRefunded,
		run.ErrorMessage,
		run.RetryFailedFromRunID,
		run.CreatedAt.Unix(),
		run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch run: %w", err)
	}

	logger.Info("Batch run created",
		zap.String("run_id", run.ID),
		zap.String("account_id", run.AccountID),
		zap.Int("total_questions", run.TotalQuestions),
	)

	return nil
}

func (c *Client) UpdateBatchRun(run *models.BatchRun) error {
	query := `
		UPDATE batch_runs SET status = ?, processed_questions = ?, successful_checks = ?,
			failed_checks = ?, credits_refunded = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := c.db.Exec(
		query,
		string(run.Status),
		run.ProcessedQuestions,
		run.SuccessfulChecks,
		run.FailedChecks,
		run.CreditsRefunded,
		run.ErrorMessage,
		time.Now().Unix(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch run: %w", err)
	}

	return nil
}

func (c *Client) GetBatchRun(id string) (*models.BatchRun, error) {
	run, err := c.queryRun(`
		SELECT id, account_id, status, providers, total_questions, processed_questions,
			successful_checks, failed_checks, credits_refunded, COALESCE(error_message, ''),
			COALESCE(retry_failed_from_run_id, ''), created_at, updated_at
		FROM batch_runs WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("batch run %s not found", id)
	}
	return run, nil
}

// GetActiveRun returns the account's run in pending or processing state, or
// nil when none is active.
func (c *Client) GetActiveRun(accountID string) (*models.BatchRun, error) {
	return c.queryRun(`
		SELECT id, account_id, status, providers, total_questions, processed_questions,
			successful_checks, failed_checks, credits_refunded, COALESCE(error_message, ''),
			COALESCE(retry_failed_from_run_id, ''), created_at, updated_at
		FROM batch_runs
		WHERE account_id = ? AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
}

func (c *Client) GetMostRecentRun(accountID string) (*models.BatchRun, error) {
	return c.queryRun(`
		SELECT id, account_id, status, providers, total_questions, processed_questions,
			successful_checks, failed_checks, credits_refunded, COALESCE(error_message, ''),
			COALESCE(retry_failed_from_run_id, ''), created_at, updated_at
		FROM batch_runs
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
}

// GetRecentRunWithFailures returns the newest terminal run since the given
// time that recorded failed checks, used by the poller's reload recovery.
func (c *Client) GetRecentRunWithFailures(accountID string, since time.Time) (*models.BatchRun, error) {
	return c.queryRun(`
		SELECT id, account_id, status, providers, total_questions, processed_questions,
			successful_checks, failed_checks, credits_refunded, COALESCE(error_message, ''),
			COALESCE(retry_failed_from_run_id, ''), created_at, updated_at
		FROM batch_runs
		WHERE account_id = ? AND status IN ('completed', 'failed')
			AND failed_checks > 0 AND updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, accountID, since.Unix())
}

func (c *Client) queryRun(query string, args ...interface{}) (*models.BatchRun, error) {
	var run models.BatchRun
	var status, providersJSON string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, args...).Scan(
		&run.ID,
		&run.AccountID,
		&status,
		&providersJSON,
		&run.TotalQuestions,
		&run.ProcessedQuestions,
		&run.SuccessfulChecks,
		&run.FailedChecks,
		&run.CreditsRefunded,
		&run.ErrorMessage,
		&run.RetryFailedFromRunID,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.CreatedAt = time.Unix(createdAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)
	json.Unmarshal([]byte(providersJSON), &run.Providers)

	return &run, nil
}

func (c *Client) InsertCheckFailure(runID, questionID string, provider models.Provider) error {
	query := `INSERT OR IGNORE INTO check_failures (run_id, question_id, provider) VALUES (?, ?, ?)`

	_, err := c.db.Exec(query, runID, questionID, string(provider))
	if err != nil {
		return fmt.Errorf("failed to record check failure: %w", err)
	}

	return nil
}

// GetFailedPairs returns the question x provider combinations that failed in
// the given run, used to scope a retry run.
func (c *Client) GetFailedPairs(runID string) ([]models.FailedPair, error) {
	rows, err := c.db.Query(
		`SELECT question_id, provider FROM check_failures WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.FailedPair
	for rows.Next() {
		var pair models.FailedPair
		var provider string

		err := rows.Scan(&pair.QuestionID, &provider)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		pair.Provider = models.Provider(provider)
		pairs = append(pairs, pair)
	}

	return pairs, rows.Err()
}
