package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"rfm-cohort/pkg/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// DefaultTables follow the Olist export.
func DefaultTables() models.Tables {
	return models.Tables{Orders: "orders", Items: "order_items", Customers: "customers"}
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validateTables(t models.Tables) error {
	for _, name := range []string{t.Orders, t.Items, t.Customers} {
		if !tableNameRe.MatchString(name) {
			return fmt.Errorf("table invalide: %q", name)
		}
	}
	return nil
}

// Open accepts mariadb://, mysql://, postgres:// or postgresql:// URLs, or a native
// MySQL DSN. It returns the handle and the driver name.
func Open(dsn string) (*sql.DB, string, error) {
	driver, native, err := resolveDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(driver, native)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, driver, nil
}

// resolveDSN returns the driver name and the DSN in that driver's native form.
func resolveDSN(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", dsn, nil
	}
	native, err := toMySQLDSN(dsn)
	return "mysql", native, err
}

func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pw, _ := u.User.Password()
			pass = pw
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("dsn incomplet (user/host/db)")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	return dsn, nil
}

// Redact hides the password of a URL-style DSN for logging.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil || u.Scheme == "" {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// LoadDataset reads the full orders, order_items and customers tables.
// Filtering is left to the computation so every dropped row is counted there.
func LoadDataset(ctx context.Context, db *sql.DB, tables models.Tables) (models.Dataset, error) {
	var ds models.Dataset
	if err := validateTables(tables); err != nil {
		return ds, err
	}

	var err error
	if ds.Customers, err = loadCustomers(ctx, db, tables.Customers); err != nil {
		return ds, fmt.Errorf("load %s: %w", tables.Customers, err)
	}
	if ds.Orders, err = loadOrders(ctx, db, tables.Orders); err != nil {
		return ds, fmt.Errorf("load %s: %w", tables.Orders, err)
	}
	if ds.Items, err = loadItems(ctx, db, tables.Items); err != nil {
		return ds, fmt.Errorf("load %s: %w", tables.Items, err)
	}
	return ds, nil
}

func loadOrders(ctx context.Context, db *sql.DB, table string) ([]models.OrderRecord, error) {
	q := fmt.Sprintf(`
		SELECT order_id, customer_id, order_status,
		       order_purchase_timestamp, order_delivered_customer_date, order_estimated_delivery_date
		FROM %s
	`, table)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrderRecord
	for rows.Next() {
		var o models.OrderRecord
		var status sql.NullString
		var purchased, delivered, estimated sql.NullTime
		if err := rows.Scan(&o.OrderID, &o.CustomerID, &status, &purchased, &delivered, &estimated); err != nil {
			return nil, err
		}
		o.Status = status.String
		o.PurchaseTimestamp = nullTime(purchased)
		o.DeliveredDate = nullTime(delivered)
		o.EstimatedDate = nullTime(estimated)
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadItems(ctx context.Context, db *sql.DB, table string) ([]models.OrderItemRecord, error) {
	q := fmt.Sprintf(`SELECT order_id, order_item_id, product_id, price, freight_value FROM %s`, table)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrderItemRecord
	for rows.Next() {
		var (
			it             models.OrderItemRecord
			product        sql.NullString
			price, freight sql.NullFloat64
		)
		if err := rows.Scan(&it.OrderID, &it.ItemID, &product, &price, &freight); err != nil {
			return nil, err
		}
		it.ProductID = product.String
		it.Price = nullAmount(price)
		it.FreightValue = nullAmount(freight)
		out = append(out, it)
	}
	return out, rows.Err()
}

func loadCustomers(ctx context.Context, db *sql.DB, table string) ([]models.CustomerRecord, error) {
	q := fmt.Sprintf(`SELECT customer_id, customer_unique_id, customer_city, customer_state FROM %s`, table)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CustomerRecord
	for rows.Next() {
		var (
			c           models.CustomerRecord
			unique      sql.NullString
			city, state sql.NullString
		)
		if err := rows.Scan(&c.CustomerID, &unique, &city, &state); err != nil {
			return nil, err
		}
		c.CustomerUniqueID = unique.String
		c.City = city.String
		c.State = state.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// nullAmount maps NULL to NaN so the qualification pass counts the item as invalid.
func nullAmount(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
