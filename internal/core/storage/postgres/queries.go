package postgres

// SQL for the catalog and the population queue.

const (
	movieColumns = `
			id, week_bucket, score, popularity,
			score_sort_key, popularity_sort_key,
			title, original_title, overview, original_language,
			release_date, vote_count, poster_path, genre_ids, updated_at`

	// queryUpsertMovie writes the base record and both rank keys in one
	// statement. The WHERE guard turns identical re-upserts into no-ops so
	// updated_at only moves when content changes.
	queryUpsertMovie = `
		INSERT INTO movies (` + movieColumns + `
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			week_bucket         = EXCLUDED.week_bucket,
			score               = EXCLUDED.score,
			popularity          = EXCLUDED.popularity,
			score_sort_key      = EXCLUDED.score_sort_key,
			popularity_sort_key = EXCLUDED.popularity_sort_key,
			title               = EXCLUDED.title,
			original_title      = EXCLUDED.original_title,
			overview            = EXCLUDED.overview,
			original_language   = EXCLUDED.original_language,
			release_date        = EXCLUDED.release_date,
			vote_count          = EXCLUDED.vote_count,
			poster_path         = EXCLUDED.poster_path,
			genre_ids           = EXCLUDED.genre_ids,
			updated_at          = EXCLUDED.updated_at
		WHERE (
			movies.week_bucket, movies.score, movies.popularity,
			movies.score_sort_key, movies.popularity_sort_key,
			movies.title, movies.original_title, movies.overview, movies.original_language,
			movies.release_date, movies.vote_count, movies.poster_path, movies.genre_ids
		) IS DISTINCT FROM (
			EXCLUDED.week_bucket, EXCLUDED.score, EXCLUDED.popularity,
			EXCLUDED.score_sort_key, EXCLUDED.popularity_sort_key,
			EXCLUDED.title, EXCLUDED.original_title, EXCLUDED.overview, EXCLUDED.original_language,
			EXCLUDED.release_date, EXCLUDED.vote_count, EXCLUDED.poster_path, EXCLUDED.genre_ids
		)
	`

	queryGetMovie = `
		SELECT` + movieColumns + `
		FROM movies
		WHERE id = $1
	`

	// Ranked reads walk the rank index backwards. An empty $2 means
	// "from the top".
	queryMoviesByScore = `
		SELECT` + movieColumns + `
		FROM movies
		WHERE week_bucket = $1
		  AND ($2 = '' OR score_sort_key < $2)
		ORDER BY score_sort_key DESC
		LIMIT $3
	`

	queryMoviesByPopularity = `
		SELECT` + movieColumns + `
		FROM movies
		WHERE week_bucket = $1
		  AND ($2 = '' OR popularity_sort_key < $2)
		ORDER BY popularity_sort_key DESC
		LIMIT $3
	`
)

const (
	// queryEnqueueRequest is idempotent per request_id.
	queryEnqueueRequest = `
		INSERT INTO population_queue (
			request_id, start_date, end_date, delivery_count, receipt, visible_at, enqueued_at
		)
		VALUES ($1, $2, $3, 0, NULL, $4, $4)
		ON CONFLICT (request_id) DO NOTHING
	`

	// queryDeadLetterExhausted moves every visible message whose budget
	// ($2 deliveries) is spent into the dead-letter table in one statement.
	queryDeadLetterExhausted = `
		WITH exhausted AS (
			DELETE FROM population_queue
			WHERE request_id IN (
				SELECT request_id
				FROM population_queue
				WHERE visible_at <= $1
				  AND delivery_count >= $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING request_id, start_date, end_date, delivery_count, enqueued_at
		)
		INSERT INTO population_dead_letters (
			request_id, start_date, end_date, delivery_count, reason, enqueued_at, dead_lettered_at
		)
		SELECT request_id, start_date, end_date, delivery_count,
		       'poison message: delivery budget exhausted after ' || delivery_count || ' deliveries',
		       enqueued_at, $1
		FROM exhausted
		ON CONFLICT (request_id) DO NOTHING
		RETURNING request_id, delivery_count
	`

	// queryClaimRequest hands out one visible message and hides it until $2.
	queryClaimRequest = `
		UPDATE population_queue
		SET delivery_count = delivery_count + 1,
			receipt = $3,
			visible_at = $2
		WHERE request_id = (
			SELECT request_id
			FROM population_queue
			WHERE visible_at <= $1
			  AND delivery_count < $4
			ORDER BY enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING request_id, start_date, end_date, delivery_count, visible_at
	`

	queryAckRequest = `
		DELETE FROM population_queue
		WHERE request_id = $1
		  AND receipt = $2
	`

	queryListDeadLetters = `
		SELECT request_id, start_date, end_date, delivery_count, reason, enqueued_at, dead_lettered_at
		FROM population_dead_letters
		ORDER BY dead_lettered_at DESC, request_id ASC
		LIMIT $1
	`
)
