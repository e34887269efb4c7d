// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/bonyad-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRestaurantNotFound возвращается, если ресторан не найден.
var (
	ErrRestaurantNotFound = errors.New("restaurant not found")
	// ErrShopNotFound возвращается, если точка выдачи не найдена в указанном ресторане.
	ErrShopNotFound = errors.New("shop not found")
	// ErrItemNotFound возвращается, если товар не найден.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemUnavailable возвращается, если товар распродан или скидка по нему выключена.
	ErrItemUnavailable = errors.New("item is not available")
	// ErrScanNotFound возвращается, если скан не найден.
	ErrScanNotFound = errors.New("scan not found")
	// ErrScanFinalized возвращается при попытке изменить скан в конечном статусе.
	ErrScanFinalized = errors.New("scan already finalized")
)

// CooldownError возвращается, когда устройство ещё находится в окне ожидания
// после последней подтверждённой проверки.
type CooldownError struct {
	NextAvailableAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("device cooling down until %s", e.NextAvailableAt.Format(time.RFC3339))
}

// ClaimParams содержит параметры атомарного получения награды.
type ClaimParams struct {
	ScanID            string
	RestaurantID      string
	ShopID            string
	ItemID            string
	GuestName         string
	DeviceFingerprint string
	Now               time.Time
	Cooldown          time.Duration
}

// ClaimResult содержит созданный скан и названия связанных сущностей.
type ClaimResult struct {
	Scan     model.Scan
	ItemName string
	ShopName string
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const scanColumns = `id, restaurant_id, shop_id, item_id,
	original_price_cents, discounted_price_cents, discount_amount_cents,
	guest_name, device_fingerprint, plate_image_url,
	verification_status, reward_unlocked, next_scan_available_at, scanned_at, verified_at`

func scanRow(row pgx.Row) (*model.Scan, error) {
	var s model.Scan
	var status string
	err := row.Scan(
		&s.ID, &s.RestaurantID, &s.ShopID, &s.ItemID,
		&s.OriginalPriceCents, &s.DiscountedPriceCents, &s.DiscountAmountCents,
		&s.GuestName, &s.DeviceFingerprint, &s.PlateImageURL,
		&status, &s.RewardUnlocked, &s.NextScanAvailableAt, &s.ScannedAt, &s.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	s.VerificationStatus = model.VerificationStatus(status)
	return &s, nil
}

// GetLatestApprovedScan возвращает последний подтверждённый скан устройства.
// Если таких сканов нет, возвращает (nil, nil): отклонённые и незавершённые
// попытки не участвуют в проверке окна ожидания.
func (r *PostgresRepository) GetLatestApprovedScan(ctx context.Context, fingerprint string) (*model.Scan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+scanColumns+`
		 FROM scans
		 WHERE device_fingerprint = $1 AND verification_status = $2
		 ORDER BY scanned_at DESC
		 LIMIT 1`,
		fingerprint, string(model.VerificationStatusApproved),
	)

	s, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest approved scan: %w", err)
	}

	return s, nil
}

// GetScanByID возвращает скан по идентификатору.
func (r *PostgresRepository) GetScanByID(ctx context.Context, id string) (*model.Scan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id = $1`, id,
	)

	s, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}

	return s, nil
}

// GetScanDetails возвращает скан вместе с названиями ресторана, точки и товара.
func (r *PostgresRepository) GetScanDetails(ctx context.Context, id string) (*model.ScanDetails, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT s.id, s.restaurant_id, s.shop_id, s.item_id,
		        s.original_price_cents, s.discounted_price_cents, s.discount_amount_cents,
		        s.guest_name, s.device_fingerprint, s.plate_image_url,
		        s.verification_status, s.reward_unlocked, s.next_scan_available_at, s.scanned_at, s.verified_at,
		        COALESCE(r.name, ''), COALESCE(sh.name, ''), COALESCE(i.name, '')
		 FROM scans s
		 LEFT JOIN restaurants r ON r.id = s.restaurant_id
		 LEFT JOIN shops sh ON sh.id = s.shop_id
		 LEFT JOIN items i ON i.id = s.item_id
		 WHERE s.id = $1`,
		id,
	)

	var d model.ScanDetails
	var status string
	err := row.Scan(
		&d.Scan.ID, &d.Scan.RestaurantID, &d.Scan.ShopID, &d.Scan.ItemID,
		&d.Scan.OriginalPriceCents, &d.Scan.DiscountedPriceCents, &d.Scan.DiscountAmountCents,
		&d.Scan.GuestName, &d.Scan.DeviceFingerprint, &d.Scan.PlateImageURL,
		&status, &d.Scan.RewardUnlocked, &d.Scan.NextScanAvailableAt, &d.Scan.ScannedAt, &d.Scan.VerifiedAt,
		&d.RestaurantName, &d.ShopName, &d.ItemName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("get scan details: %w", err)
	}
	d.Scan.VerificationStatus = model.VerificationStatus(status)

	return &d, nil
}

// CreatePendingScan сохраняет новый скан в статусе pending для последующей проверки.
func (r *PostgresRepository) CreatePendingScan(ctx context.Context, s *model.Scan) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO scans (id, restaurant_id, shop_id, item_id,
		        original_price_cents, discounted_price_cents, discount_amount_cents,
		        guest_name, device_fingerprint, plate_image_url,
		        verification_status, reward_unlocked, next_scan_available_at, scanned_at)
		 VALUES ($1, $2, $3, $4, 0, 0, 0, $5, $6, $7, $8, FALSE, NULL, $9)`,
		s.ID, s.RestaurantID, s.ShopID, s.ItemID,
		s.GuestName, s.DeviceFingerprint, s.PlateImageURL,
		string(model.VerificationStatusPending), s.ScannedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrItemNotFound
		}
		return fmt.Errorf("insert pending scan: %w", err)
	}
	return nil
}

// AttachPlateImage заменяет изображение у существующего скана. Разрешено только
// для сканов в статусе pending: конечные сканы неизменяемы.
func (r *PostgresRepository) AttachPlateImage(ctx context.Context, scanID, imageURL, fingerprint string, now time.Time) (*model.Scan, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE scans
		 SET plate_image_url = $2, device_fingerprint = $3, scanned_at = $4
		 WHERE id = $1 AND verification_status = $5
		 RETURNING `+scanColumns,
		scanID, imageURL, fingerprint, now, string(model.VerificationStatusPending),
	)

	s, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissingPending(ctx, scanID)
		}
		return nil, fmt.Errorf("attach plate image: %w", err)
	}

	return s, nil
}

// FinalizeScan переводит скан из pending в конечный статус. Условие по статусу
// гарантирует, что повторная проверка уже завершённого скана не пройдёт.
func (r *PostgresRepository) FinalizeScan(ctx context.Context, scanID string, status model.VerificationStatus, verifiedAt time.Time, nextAvailableAt *time.Time) (*model.Scan, error) {
	rewardUnlocked := status == model.VerificationStatusApproved

	row := r.pool.QueryRow(ctx,
		`UPDATE scans
		 SET verification_status = $2, reward_unlocked = $3, verified_at = $4, next_scan_available_at = $5
		 WHERE id = $1 AND verification_status = $6
		 RETURNING `+scanColumns,
		scanID, string(status), rewardUnlocked, verifiedAt, nextAvailableAt,
		string(model.VerificationStatusPending),
	)

	s, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissingPending(ctx, scanID)
		}
		return nil, fmt.Errorf("finalize scan: %w", err)
	}

	return s, nil
}

// classifyMissingPending различает отсутствующий скан и скан в конечном статусе.
func (r *PostgresRepository) classifyMissingPending(ctx context.Context, scanID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, scanID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check scan existence: %w", err)
	}
	if exists {
		return ErrScanFinalized
	}
	return ErrScanNotFound
}

// CreateClaimedScan атомарно выдаёт награду: в одной транзакции повторно проверяет
// окно ожидания устройства, условно уменьшает остаток товара и создаёт
// подтверждённый скан с зафиксированными ценами.
func (r *PostgresRepository) CreateClaimedScan(ctx context.Context, p ClaimParams) (*ClaimResult, error) {
	var res *ClaimResult
	err := r.withRetry(ctx, func() error {
		var txErr error
		res, txErr = r.claimTx(ctx, p)
		return txErr
	})
	return res, err
}

func (r *PostgresRepository) claimTx(ctx context.Context, p ClaimParams) (*ClaimResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Сериализуем получение наград одним устройством: строки устройства нет,
	// поэтому вместо SELECT FOR UPDATE берём advisory-блокировку по отпечатку.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.DeviceFingerprint); err != nil {
		return nil, fmt.Errorf("lock fingerprint: %w", err)
	}

	var nextAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT next_scan_available_at
		 FROM scans
		 WHERE device_fingerprint = $1 AND verification_status = $2
		 ORDER BY scanned_at DESC
		 LIMIT 1`,
		p.DeviceFingerprint, string(model.VerificationStatusApproved),
	).Scan(&nextAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check cooldown: %w", err)
	}
	if nextAt != nil && p.Now.Before(*nextAt) {
		return nil, &CooldownError{NextAvailableAt: *nextAt}
	}

	var shopName string
	err = tx.QueryRow(ctx,
		`SELECT name FROM shops WHERE id = $1 AND restaurant_id = $2`,
		p.ShopID, p.RestaurantID,
	).Scan(&shopName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}

	// Условное уменьшение остатка: строка обновится только если товар активен
	// и остаток строго больше нуля, иначе никаких изменений не происходит.
	var itemName string
	var originalCents, discountedCents int64
	err = tx.QueryRow(ctx,
		`UPDATE items
		 SET quantity_available = quantity_available - 1
		 WHERE id = $1 AND shop_id = $2 AND is_active AND discount_active AND quantity_available > 0
		 RETURNING name, original_price_cents, discounted_price_cents`,
		p.ItemID, p.ShopID,
	).Scan(&itemName, &originalCents, &discountedCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyUnclaimableItem(ctx, tx, p.ItemID, p.ShopID)
		}
		return nil, fmt.Errorf("decrement item quantity: %w", err)
	}

	nextAvailable := p.Now.Add(p.Cooldown)
	scan := model.Scan{
		ID:                   p.ScanID,
		RestaurantID:         &p.RestaurantID,
		ShopID:               &p.ShopID,
		ItemID:               &p.ItemID,
		OriginalPriceCents:   originalCents,
		DiscountedPriceCents: discountedCents,
		DiscountAmountCents:  originalCents - discountedCents,
		GuestName:            p.GuestName,
		DeviceFingerprint:    p.DeviceFingerprint,
		VerificationStatus:   model.VerificationStatusApproved,
		RewardUnlocked:       true,
		NextScanAvailableAt:  &nextAvailable,
		ScannedAt:            p.Now,
		VerifiedAt:           &p.Now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO scans (id, restaurant_id, shop_id, item_id,
		        original_price_cents, discounted_price_cents, discount_amount_cents,
		        guest_name, device_fingerprint, plate_image_url,
		        verification_status, reward_unlocked, next_scan_available_at, scanned_at, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, TRUE, $11, $12, $12)`,
		scan.ID, scan.RestaurantID, scan.ShopID, scan.ItemID,
		scan.OriginalPriceCents, scan.DiscountedPriceCents, scan.DiscountAmountCents,
		scan.GuestName, scan.DeviceFingerprint,
		string(model.VerificationStatusApproved), scan.NextScanAvailableAt, p.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert claimed scan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &ClaimResult{
		Scan:     scan,
		ItemName: itemName,
		ShopName: shopName,
	}, nil
}

func (r *PostgresRepository) classifyUnclaimableItem(ctx context.Context, tx pgx.Tx, itemID, shopID string) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE id = $1 AND shop_id = $2)`,
		itemID, shopID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check item existence: %w", err)
	}
	if exists {
		return ErrItemUnavailable
	}
	return ErrItemNotFound
}

// GetRestaurant возвращает ресторан по идентификатору. Пустой идентификатор
// означает первый зарегистрированный ресторан.
func (r *PostgresRepository) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	var row pgx.Row
	if id == "" {
		row = r.pool.QueryRow(ctx,
			`SELECT id, name, address, created_at FROM restaurants ORDER BY created_at LIMIT 1`)
	} else {
		row = r.pool.QueryRow(ctx,
			`SELECT id, name, address, created_at FROM restaurants WHERE id = $1`, id)
	}

	var rest model.Restaurant
	err := row.Scan(&rest.ID, &rest.Name, &rest.Address, &rest.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("get restaurant: %w", err)
	}

	return &rest, nil
}

// ListOffers возвращает активные предложения ресторана, сгруппированные по точкам выдачи.
// В выдачу попадают только товары с включённой скидкой и положительным остатком.
func (r *PostgresRepository) ListOffers(ctx context.Context, restaurantID string) (*model.Offers, error) {
	restaurant, err := r.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT sh.id, sh.name, sh.address, sh.status,
		        i.id, i.name, i.original_price_cents, i.discounted_price_cents, i.quantity_available
		 FROM shops sh
		 JOIN items i ON i.shop_id = sh.id
		 WHERE sh.restaurant_id = $1
		   AND sh.status = $2
		   AND i.is_active AND i.discount_active AND i.quantity_available > 0
		 ORDER BY sh.name, i.name`,
		restaurant.ID, string(model.ShopStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select offers: %w", err)
	}
	defer rows.Close()

	offers := &model.Offers{Restaurant: *restaurant}
	index := make(map[string]int)

	for rows.Next() {
		var shop model.Shop
		var status string
		var item model.OfferItem
		var originalCents, discountedCents int64

		if err := rows.Scan(
			&shop.ID, &shop.Name, &shop.Address, &status,
			&item.ID, &item.Name, &originalCents, &discountedCents, &item.QuantityAvailable,
		); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		shop.RestaurantID = restaurant.ID
		shop.Status = model.ShopStatus(status)

		item.OriginalPrice = float64(originalCents) / 100
		item.DiscountedPrice = float64(discountedCents) / 100
		item.DiscountAmount = float64(originalCents-discountedCents) / 100
		if originalCents > 0 {
			item.DiscountPercentage = int(float64(originalCents-discountedCents)/float64(originalCents)*100 + 0.5)
		}

		pos, ok := index[shop.ID]
		if !ok {
			pos = len(offers.Shops)
			index[shop.ID] = pos
			offers.Shops = append(offers.Shops, model.ShopOffers{Shop: shop})
		}
		offers.Shops[pos].Items = append(offers.Shops[pos].Items, item)
		offers.TotalOffers++
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return offers, nil
}

// ListScans возвращает историю сканов с названиями связанных сущностей, новые первыми.
func (r *PostgresRepository) ListScans(ctx context.Context) ([]model.ScanDetails, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.original_price_cents, s.discounted_price_cents, s.discount_amount_cents,
		        s.guest_name, s.device_fingerprint, s.verification_status, s.reward_unlocked,
		        s.next_scan_available_at, s.scanned_at, s.verified_at,
		        COALESCE(r.name, ''), COALESCE(sh.name, ''), COALESCE(i.name, '')
		 FROM scans s
		 LEFT JOIN restaurants r ON r.id = s.restaurant_id
		 LEFT JOIN shops sh ON sh.id = s.shop_id
		 LEFT JOIN items i ON i.id = s.item_id
		 ORDER BY s.scanned_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select scans: %w", err)
	}
	defer rows.Close()

	var res []model.ScanDetails
	for rows.Next() {
		var d model.ScanDetails
		var status string
		if err := rows.Scan(
			&d.Scan.ID, &d.Scan.OriginalPriceCents, &d.Scan.DiscountedPriceCents, &d.Scan.DiscountAmountCents,
			&d.Scan.GuestName, &d.Scan.DeviceFingerprint, &status, &d.Scan.RewardUnlocked,
			&d.Scan.NextScanAvailableAt, &d.Scan.ScannedAt, &d.Scan.VerifiedAt,
			&d.RestaurantName, &d.ShopName, &d.ItemName,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		d.Scan.VerificationStatus = model.VerificationStatus(status)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetDashboardMetrics возвращает сводные показатели: количество сканов, сумму
// выданных скидок и последние сканы.
func (r *PostgresRepository) GetDashboardMetrics(ctx context.Context, recentLimit int) (*model.DashboardMetrics, error) {
	var m model.DashboardMetrics

	var totalCents int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(discount_amount_cents), 0) FROM scans`,
	).Scan(&m.TotalScans, &totalCents)
	if err != nil {
		return nil, fmt.Errorf("aggregate scans: %w", err)
	}
	m.TotalRewards = float64(totalCents) / 100

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.scanned_at, s.discount_amount_cents,
		        COALESCE(sh.name, ''), COALESCE(i.name, '')
		 FROM scans s
		 LEFT JOIN shops sh ON sh.id = s.shop_id
		 LEFT JOIN items i ON i.id = s.item_id
		 ORDER BY s.scanned_at DESC
		 LIMIT $1`,
		recentLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent scans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.RecentScan
		var discountCents int64
		if err := rows.Scan(&rec.ID, &rec.ScannedAt, &discountCents, &rec.ShopName, &rec.ItemName); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		rec.DiscountApplied = float64(discountCents) / 100
		m.Recent = append(m.Recent, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &m, nil
}

// ClearStaleCooldowns снимает окно ожидания со сканов, не прошедших проверку.
// Окно имеют право нести только подтверждённые сканы.
func (r *PostgresRepository) ClearStaleCooldowns(ctx context.Context) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, execErr := r.pool.Exec(ctx,
			`UPDATE scans
			 SET next_scan_available_at = NULL
			 WHERE verification_status <> $1 AND next_scan_available_at IS NOT NULL`,
			string(model.VerificationStatusApproved),
		)
		if execErr != nil {
			return fmt.Errorf("clear stale cooldowns: %w", execErr)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}
