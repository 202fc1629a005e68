package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "time"    // time is used for TTL and interval tunables
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for the
// various sale TTLs and intervals, ints for sizes and limits.
type Config struct {
    Env                string        // application environment (e.g. "dev", "prod")
    Port               string        // HTTP port to listen on
    DBUser             string        // database username
    DBPass             string        // database password (optional)
    DBHost             string        // database host address
    DBPort             string        // database port number
    DBName             string        // database name
    QRSecret           string        // process-wide secret for ticket QR signatures
    AdminJWTSecret     string        // secret for admin bearer tokens; empty leaves admin routes open
    QueueTokenTTL      time.Duration // lifetime of a waiting-room token record
    AdmissionTTL       time.Duration // lifetime of an admission grant
    WaveSize           int           // number of positions released per wave
    WaveInterval       time.Duration // minimum delay between wave advances
    ReservationTTL     time.Duration // lifetime of an inventory hold
    EventPurchaseLimit int           // max quantity (paid + held) per user per event
    RecoveryInterval   time.Duration // period of the background recovery sweep
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  Sale tunables all
// carry the documented defaults so a bare environment only needs the
// app environment and port, the database coordinates and the QR secret.
func Load() Config {
    return Config{
        Env:                must("APP_ENV"),      // environment (dev/test/prod)
        Port:               must("APP_PORT"),     // port to bind the HTTP server
        DBUser:             must("DB_USER"),      // database user
        DBPass:             os.Getenv("DB_PASS"), // database password (empty allowed)
        DBHost:             must("DB_HOST"),      // database host
        DBPort:             must("DB_PORT"),      // database port
        DBName:             must("DB_NAME"),      // database name
        QRSecret:           must("QR_SECRET"),    // ticket signing secret
        AdminJWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
        QueueTokenTTL:      envSeconds("QUEUE_TOKEN_TTL", 3600),
        AdmissionTTL:       envSeconds("ADMISSION_TTL", 180),
        WaveSize:           envIntDefault("WAVE_SIZE", 100),
        WaveInterval:       envSeconds("WAVE_INTERVAL", 30),
        ReservationTTL:     envSeconds("RESERVATION_TTL", 180),
        EventPurchaseLimit: envIntDefault("EVENT_PURCHASE_LIMIT", 6),
        RecoveryInterval:   envSeconds("RECOVERY_INTERVAL", 60),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// envIntDefault reads an optional integer environment variable, falling back
// to the supplied default when the variable is unset or unparsable.  Values
// below 1 fall back as well so a misconfigured limit can never disable a
// cap entirely.
func envIntDefault(key string, def int) int {
    v := os.Getenv(key)
    if v == "" {
        return def
    }
    n, err := strconv.Atoi(v)
    if err != nil || n < 1 {
        return def
    }
    return n
}

// envSeconds reads an optional duration expressed as a whole number of
// seconds.  All the sale tunables are documented in seconds, so a plain
// integer is accepted rather than a Go duration string.
func envSeconds(key string, def int) time.Duration {
    return time.Duration(envIntDefault(key, def)) * time.Second
}
