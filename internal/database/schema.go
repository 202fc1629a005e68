package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements holds the DDL for every table, applied in dependency
// order.  Every statement is idempotent (IF NOT EXISTS) so Migrate can run
// on every boot.  Monetary amounts are integer cents.  All timestamps are
// DATETIME(3) in UTC; millisecond precision matters for hold expiry
// comparisons.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id          CHAR(36)     NOT NULL,
		name        VARCHAR(255) NOT NULL,
		venue       VARCHAR(255) NOT NULL,
		starts_at   DATETIME(3)  NOT NULL,
		on_sale_at  DATETIME(3)  NOT NULL,
		status      ENUM('draft','scheduled','on_sale','closed','canceled') NOT NULL DEFAULT 'draft',
		paused      TINYINT(1)   NOT NULL DEFAULT 0,
		created_at  DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at  DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		KEY idx_events_status (status, on_sale_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS tiers (
		id             CHAR(36)     NOT NULL,
		event_id       CHAR(36)     NOT NULL,
		name           VARCHAR(128) NOT NULL,
		price_cents    BIGINT       NOT NULL,
		capacity       INT          NOT NULL,
		per_user_limit INT          NOT NULL DEFAULT 1,
		created_at     DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		UNIQUE KEY uq_tiers_event_name (event_id, name),
		CONSTRAINT fk_tiers_event FOREIGN KEY (event_id) REFERENCES events (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id         CHAR(36)    NOT NULL,
		event_id   CHAR(36)    NOT NULL,
		tier_id    CHAR(36)    NOT NULL,
		user_id    VARCHAR(128) NOT NULL,
		quantity   INT         NOT NULL,
		status     ENUM('active','expired','converted','canceled') NOT NULL DEFAULT 'active',
		expires_at DATETIME(3) NOT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		KEY idx_res_tier_active (tier_id, status, expires_at),
		KEY idx_res_user_event (user_id, event_id, status),
		KEY idx_res_sweep (status, expires_at),
		CONSTRAINT fk_res_event FOREIGN KEY (event_id) REFERENCES events (id),
		CONSTRAINT fk_res_tier FOREIGN KEY (tier_id) REFERENCES tiers (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS checkout_sessions (
		id              CHAR(36)     NOT NULL,
		reservation_id  CHAR(36)     NOT NULL,
		user_id         VARCHAR(128) NOT NULL,
		idempotency_key VARCHAR(255) NOT NULL,
		status          ENUM('pending','completed','failed','expired') NOT NULL DEFAULT 'pending',
		created_at      DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at      DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		UNIQUE KEY uq_sessions_idem (idempotency_key),
		KEY idx_sessions_reservation (reservation_id, status),
		CONSTRAINT fk_sess_res FOREIGN KEY (reservation_id) REFERENCES reservations (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                CHAR(36)     NOT NULL,
		session_id        CHAR(36)     NOT NULL,
		event_id          CHAR(36)     NOT NULL,
		tier_id           CHAR(36)     NOT NULL,
		user_id           VARCHAR(128) NOT NULL,
		quantity          INT          NOT NULL,
		total_price_cents BIGINT       NOT NULL,
		status            ENUM('paid','refunded','canceled') NOT NULL DEFAULT 'paid',
		created_at        DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		UNIQUE KEY uq_orders_session (session_id),
		KEY idx_orders_user (user_id),
		KEY idx_orders_tier (tier_id, status),
		CONSTRAINT fk_orders_session FOREIGN KEY (session_id) REFERENCES checkout_sessions (id),
		CONSTRAINT fk_orders_event FOREIGN KEY (event_id) REFERENCES events (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id         CHAR(36)     NOT NULL,
		order_id   CHAR(36)     NOT NULL,
		event_id   CHAR(36)     NOT NULL,
		tier_id    CHAR(36)     NOT NULL,
		user_id    VARCHAR(128) NOT NULL,
		code       VARCHAR(64)  NOT NULL,
		qr_sig     VARCHAR(64)  NOT NULL,
		created_at DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		PRIMARY KEY (id),
		UNIQUE KEY uq_tickets_code (code),
		KEY idx_tickets_order (order_id),
		KEY idx_tickets_user (user_id, event_id),
		CONSTRAINT fk_tickets_order FOREIGN KEY (order_id) REFERENCES orders (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.  Safe to call on every startup; existing
// tables are left untouched.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
