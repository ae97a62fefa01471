package database

import (
	"context"
	"database/sql"
	"fmt"

	"landgrid/internal/infrastructure/logger"
)

// schemaStatements テーブルとインデックス
// property_cells.cell を主キーにして、1セルが複数プロパティに属さないことをDBで保証する
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tokens BIGINT NOT NULL CHECK (tokens >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL REFERENCES users(id),
		price BIGINT NOT NULL,
		name TEXT,
		description TEXT,
		address TEXT,
		for_sale BOOLEAN NOT NULL DEFAULT FALSE,
		sale_price BIGINT,
		min_lng DOUBLE PRECISION NOT NULL,
		min_lat DOUBLE PRECISION NOT NULL,
		max_lng DOUBLE PRECISION NOT NULL,
		max_lat DOUBLE PRECISION NOT NULL,
		bounds_wkt TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_bounds ON properties(min_lng, max_lng, min_lat, max_lat)`,
	`CREATE TABLE IF NOT EXISTS property_cells (
		cell TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		lng_index BIGINT NOT NULL,
		lat_index BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_property_cells_property ON property_cells(property_id)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		bidder TEXT NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_property ON bids(property_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_bidder ON bids(bidder)`,
}

// supabaseFunctions Supabase経由の書き込みで呼ぶRPC関数
// PostgRESTはエラー本文を返さないため、結果は {"ok": bool, "error": ...} のJSONで返す
var supabaseFunctions = []string{
	`CREATE OR REPLACE FUNCTION landgrid_purchase_cells(
		p_id TEXT, p_owner TEXT, p_cells TEXT[], p_lng BIGINT[], p_lat BIGINT[], p_price BIGINT, p_address TEXT,
		p_min_lng DOUBLE PRECISION, p_min_lat DOUBLE PRECISION, p_max_lng DOUBLE PRECISION, p_max_lat DOUBLE PRECISION,
		p_bounds_wkt TEXT
	) RETURNS JSON LANGUAGE plpgsql AS $$
	DECLARE
		v_tokens BIGINT;
		v_owned TEXT[];
	BEGIN
		SELECT tokens INTO v_tokens FROM users WHERE id = p_owner FOR UPDATE;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'user_not_found');
		END IF;
		SELECT array_agg(cell ORDER BY cell) INTO v_owned FROM property_cells WHERE cell = ANY(p_cells);
		IF v_owned IS NOT NULL THEN
			RETURN json_build_object('ok', false, 'error', 'conflict', 'ownedCells', v_owned);
		END IF;
		IF v_tokens < p_price THEN
			RETURN json_build_object('ok', false, 'error', 'insufficient', 'required', p_price, 'available', v_tokens);
		END IF;
		UPDATE users SET tokens = tokens - p_price WHERE id = p_owner;
		INSERT INTO properties(id, owner, price, address, min_lng, min_lat, max_lng, max_lat, bounds_wkt)
			VALUES (p_id, p_owner, p_price, p_address, p_min_lng, p_min_lat, p_max_lng, p_max_lat, p_bounds_wkt);
		INSERT INTO property_cells(cell, property_id, lng_index, lat_index)
			SELECT unnest(p_cells), p_id, unnest(p_lng), unnest(p_lat);
		RETURN json_build_object('ok', true, 'id', p_id);
	EXCEPTION WHEN unique_violation THEN
		RETURN json_build_object('ok', false, 'error', 'conflict',
			'ownedCells', (SELECT array_agg(cell ORDER BY cell) FROM property_cells WHERE cell = ANY(p_cells)));
	END;
	$$`,
	`CREATE OR REPLACE FUNCTION landgrid_transfer(p_property TEXT, p_buyer TEXT, p_amount BIGINT, p_keep_bid TEXT)
	RETURNS JSON LANGUAGE plpgsql AS $$
	DECLARE
		v_owner TEXT;
		v_tokens BIGINT;
	BEGIN
		SELECT owner INTO v_owner FROM properties WHERE id = p_property FOR UPDATE;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'property_not_found');
		END IF;
		IF v_owner = p_buyer THEN
			RETURN json_build_object('ok', false, 'error', 'forbidden');
		END IF;
		SELECT tokens INTO v_tokens FROM users WHERE id = p_buyer FOR UPDATE;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'user_not_found');
		END IF;
		IF v_tokens < p_amount THEN
			RETURN json_build_object('ok', false, 'error', 'insufficient', 'required', p_amount, 'available', v_tokens);
		END IF;
		UPDATE users SET tokens = tokens - p_amount WHERE id = p_buyer;
		UPDATE users SET tokens = tokens + p_amount WHERE id = v_owner;
		UPDATE properties SET owner = p_buyer, price = p_amount, for_sale = FALSE, sale_price = NULL, updated_at = now()
			WHERE id = p_property;
		UPDATE bids SET status = 'declined', updated_at = now()
			WHERE property_id = p_property AND status = 'active' AND id IS DISTINCT FROM p_keep_bid;
		RETURN json_build_object('ok', true, 'id', p_property);
	END;
	$$`,
	`CREATE OR REPLACE FUNCTION landgrid_buy_listed(p_property TEXT, p_buyer TEXT)
	RETURNS JSON LANGUAGE plpgsql AS $$
	DECLARE
		v_for_sale BOOLEAN;
		v_sale_price BIGINT;
	BEGIN
		SELECT for_sale, sale_price INTO v_for_sale, v_sale_price FROM properties WHERE id = p_property FOR UPDATE;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'property_not_found');
		END IF;
		IF NOT v_for_sale OR v_sale_price IS NULL THEN
			RETURN json_build_object('ok', false, 'error', 'not_for_sale');
		END IF;
		RETURN landgrid_transfer(p_property, p_buyer, v_sale_price, NULL);
	END;
	$$`,
	`CREATE OR REPLACE FUNCTION landgrid_update_bid_status(p_bid TEXT, p_actor TEXT, p_status TEXT)
	RETURNS JSON LANGUAGE plpgsql AS $$
	DECLARE
		v_bid bids%ROWTYPE;
		v_owner TEXT;
		v_result JSON;
	BEGIN
		SELECT * INTO v_bid FROM bids WHERE id = p_bid FOR UPDATE;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'bid_not_found');
		END IF;
		IF v_bid.status <> 'active' THEN
			RETURN json_build_object('ok', false, 'error', 'invalid_bid');
		END IF;
		SELECT owner INTO v_owner FROM properties WHERE id = v_bid.property_id;
		IF p_status = 'cancelled' AND v_bid.bidder <> p_actor THEN
			RETURN json_build_object('ok', false, 'error', 'forbidden');
		END IF;
		IF p_status IN ('accepted', 'declined') AND v_owner <> p_actor THEN
			RETURN json_build_object('ok', false, 'error', 'forbidden');
		END IF;
		IF p_status = 'accepted' THEN
			v_result := landgrid_transfer(v_bid.property_id, v_bid.bidder, v_bid.amount, v_bid.id);
			IF NOT (v_result->>'ok')::BOOLEAN THEN
				RETURN v_result;
			END IF;
		END IF;
		UPDATE bids SET status = p_status, updated_at = now() WHERE id = p_bid;
		RETURN json_build_object('ok', true, 'id', p_bid);
	END;
	$$`,
	`CREATE OR REPLACE FUNCTION landgrid_credit_tokens(p_user TEXT, p_amount BIGINT)
	RETURNS JSON LANGUAGE plpgsql AS $$
	DECLARE
		v_tokens BIGINT;
	BEGIN
		UPDATE users SET tokens = tokens + p_amount WHERE id = p_user RETURNING tokens INTO v_tokens;
		IF NOT FOUND THEN
			RETURN json_build_object('ok', false, 'error', 'user_not_found');
		END IF;
		RETURN json_build_object('ok', true, 'id', p_user, 'tokens', v_tokens);
	END;
	$$`,
}

// EnsureSchema 初回起動時にテーブルを作成する
// withFunctions が真ならSupabase用のRPC関数も作成する
func EnsureSchema(ctx context.Context, db *sql.DB, withFunctions bool) error {
	stmts := schemaStatements
	if withFunctions {
		stmts = append(append([]string(nil), schemaStatements...), supabaseFunctions...)
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("スキーマ作成に失敗 (%d): %w", i, err)
		}
	}
	return nil
}
