package main

import (
	"compress/gzip"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	"github.com/russross/practicalgrader/grader"
	"github.com/russross/practicalgrader/host"
	. "github.com/russross/practicalgrader/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	Hostname      string `json:"hostname" env:"PRACTICALGRADER_HOSTNAME"`            // Hostname for the site: "your.host.goes.here"
	SessionSecret string `json:"sessionSecret" env:"PRACTICALGRADER_SESSIONSECRET"` // Random string used to sign cookie sessions: `head -c 32 /dev/urandom | base64`

	// parameters where the default is usually sufficient
	SQLite3Path    string `json:"sqlite3Path" env:"PRACTICALGRADER_SQLITE3PATH"`                         // path to the sqlite database file: default "$PRACTICALGRADERROOT/db/practicalgrader.db"
	FixturePath    string `json:"fixturePath" env:"PRACTICALGRADER_FIXTURE"`                             // site description loaded into a new database
	SessionHours   int    `json:"sessionHours" env:"PRACTICALGRADER_SESSIONHOURS" envDefault:"12"`      // lifetime of a cookie session
	GradebookTrace bool   `json:"gradebookTrace" env:"PRACTICALGRADER_GRADEBOOKTRACE" envDefault:"false"` // copy gradebook diagnostics to the server log
}
var root string
var port string

func main() {
	log.SetFlags(log.Lshortfile)

	root = os.Getenv("PRACTICALGRADERROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("PRACTICALGRADERROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "practicalgrader")
	}
	log.Printf("PRACTICALGRADERROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	log.Printf("port set to %s", port)

	// parse command line
	var useConfig bool
	var fixture string
	flag.BoolVar(&useConfig, "config", false, "Use config.json for config data (for testing)")
	flag.StringVar(&fixture, "fixture", "", "Load a site description into the database before serving")
	flag.Parse()

	if err := loadConfig(useConfig); err != nil {
		log.Fatalf("%v", err)
	}
	if fixture != "" {
		Config.FixturePath = fixture
	}

	if Config.Hostname == "" {
		log.Fatalf("cannot run with no hostname in the config file")
	}
	if Config.SessionSecret == "" {
		log.Fatalf("cannot run with no sessionSecret in the config file")
	}
	if Config.SQLite3Path == "" {
		log.Fatalf("cannot run with no sqlite3Path in the config file")
	}

	db := setupDB(Config.SQLite3Path, Config.FixturePath)

	var trace io.Writer = io.Discard
	if Config.GradebookTrace {
		trace = log.Writer()
	}
	m := newServer(db, grader.NewHandler(grader.DefaultRegistry()), trace)

	// note: this will work behind a TLS proxy or for debugging
	log.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

// loadConfig fills in Config from config.json under root, or from the environment.
func loadConfig(useConfig bool) error {
	// set config defaults
	Config.SQLite3Path = filepath.Join(root, "db", "practicalgrader.db")
	Config.SessionHours = 12

	if useConfig {
		configFile := filepath.Join(root, "config.json")
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config file %q: %w", configFile, err)
		}
		if err := json.Unmarshal(raw, &Config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := env.Parse(&Config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	Config.SessionSecret = unBase64(Config.SessionSecret)
	if Config.SessionHours < 1 {
		return fmt.Errorf("sessionHours must be 1 or greater")
	}
	return nil
}

// newServer builds the martini handler. Every request that touches the
// database runs in its own transaction, one at a time.
func newServer(db *sql.DB, handler *grader.Handler, trace io.Writer) *martini.Martini {
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "", log.Lshortfile))
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Map(handler)
	m.Action(r.Handle)

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{IndentJSON: false}))
	m.Use(withPrinter)

	var dbMutex sync.Mutex

	// martini service: wrap handler in a transaction
	withTx := func(c martini.Context, r *http.Request, w http.ResponseWriter, p *message.Printer) {
		// start a transaction
		dbMutex.Lock()
		defer dbMutex.Unlock()

		start := time.Now()
		defer func() {
			elapsed := time.Since(start)
			if elapsed > 500*time.Millisecond {
				elapsed -= elapsed % time.Millisecond
				log.Printf("transaction took %v, req was %s", elapsed, r.RequestURI)
			}
		}()
		tx, err := db.Begin()
		if err != nil {
			loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
				"db error starting transaction: %v", err)
			return
		}

		// pass it on to the main handler
		c.Map(tx)
		c.Map(host.New(tx, trace))
		c.Next()

		// was it a successful result?
		rw := w.(martini.ResponseWriter)
		if rw.Status() < http.StatusBadRequest {
			// commit the transaction
			if err := tx.Commit(); err != nil {
				loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
					"db error committing transaction: %v", err)
				return
			}
		} else {
			if err := tx.Rollback(); err != nil {
				log.Printf("db error rolling back transaction: %v", err)
				return
			}
		}
	}

	// martini service: require logged in user to be an administrator (requires withCurrentUser)
	administratorOnly := func(w http.ResponseWriter, p *message.Printer, currentUser *User) {
		if !currentUser.Admin {
			loggedExternalError(w, p, http.StatusForbidden, "webservice_access_exception", "accessexception",
				[]interface{}{"administrator"}, "user %d (%s) is not an administrator", currentUser.ID, currentUser.Username)
			return
		}
	}

	// version
	r.Get("/v2/version", counter, func(w http.ResponseWriter, render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// stats
	r.Get("/v2/stats", counter, withTx, withCurrentUser, administratorOnly, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, "{\n")
		first := true
		expvar.Do(func(kv expvar.KeyValue) {
			if !first {
				fmt.Fprintf(w, ",\n")
			}
			first = false
			fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
		})
		fmt.Fprintf(w, "\n}\n")
	})

	// web service functions
	r.Get("/v2/functions", counter, withTx, withCurrentUser, GetFunctions)
	r.Post("/v2/functions/"+SaveGradeFunction, counter, gunzip, withTx, withCurrentUser, serviceGate(SaveGradeFunction),
		bindParams(SaveGradeParams{}), PostSaveGrade)
	r.Post("/v2/functions/:function", counter, withTx, withCurrentUser, func(w http.ResponseWriter, p *message.Printer, params martini.Params) {
		loggedExternalError(w, p, http.StatusNotFound, "moodle_exception", "invalidfunction",
			[]interface{}{params["function"]}, "unknown function %q", params["function"])
	})

	// users
	r.Get("/v2/users/me", counter, withTx, withCurrentUser, GetUserMe)
	r.Post("/v2/users/session", counter, withTx, withCurrentUser, PostUserSession)

	return m
}

func setupDB(path, fixture string) *sql.DB {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Fatalf("error creating database directory: %v", err)
	}
	db, err := host.Open(path)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}
	if err := host.CreateSchema(db); err != nil {
		log.Fatalf("error creating schema: %v", err)
	}
	if fixture != "" {
		tx, err := db.Begin()
		if err != nil {
			log.Fatalf("db error starting transaction: %v", err)
		}
		if err := host.LoadFixture(tx, fixture); err != nil {
			tx.Rollback()
			log.Fatalf("error loading fixture: %v", err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalf("db error committing fixture: %v", err)
		}
		log.Printf("loaded site description from %s", fixture)
	}

	return db
}

// martini middleware: pick the response language from lang=<...> or Accept-Language
func withPrinter(c martini.Context, r *http.Request) {
	var preferred []language.Tag
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			preferred = append(preferred, tag)
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil {
			preferred = append(preferred, tags...)
		}
	}
	c.Map(message.NewPrinter(grader.MatchLanguage(preferred...)))
}

// bindParams binds function parameters from a form or JSON body, reporting
// failures in the web service error format.
func bindParams(obj interface{}) martini.Handler {
	return func(c martini.Context, w http.ResponseWriter, r *http.Request, p *message.Printer) {
		contentType := r.Header.Get("Content-Type")
		switch {
		case strings.Contains(contentType, "form-urlencoded"):
			c.Invoke(binding.Form(obj))
		case strings.Contains(contentType, "multipart/form-data"):
			c.Invoke(binding.MultipartForm(obj))
		case strings.Contains(contentType, "json"):
			c.Invoke(binding.Json(obj))
		default:
			loggedExternalError(w, p, http.StatusUnsupportedMediaType, "invalid_parameter_exception", "invalidparameter",
				[]interface{}{"Content-Type"}, "unsupported Content-Type %q", contentType)
			return
		}

		// the binders map the errors they found, if any
		mapped := c.Get(reflect.TypeOf(binding.Errors{}))
		if !mapped.IsValid() {
			return
		}
		if errs := mapped.Interface().(binding.Errors); len(errs) > 0 {
			loggedExternalError(w, p, http.StatusBadRequest, "invalid_parameter_exception", "invalidparameter",
				[]interface{}{errs[0].Message}, "binding %s: %s", errs[0].Classification, errs[0].Message)
			return
		}
	}
}

// martini middleware: decompress incoming requests
func gunzip(c martini.Context, w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return
	}

	r.Header.Del("Content-Encoding")
	body := r.Body
	var err error
	r.Body, err = gzip.NewReader(body)
	defer body.Close()
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "gzip error in request: %v", err)
		return
	}
	c.Next()
}

func counter(w http.ResponseWriter, r *http.Request, c martini.Context) {
	start := time.Now()
	c.Next()
	now := time.Now()
	seconds := now.Sub(start).Seconds()

	stats.Lock()
	defer stats.Unlock()
	stats.hits++
	hitsCounter.Add(1)
	if seconds > stats.slowest {
		stats.slowest = seconds
		slowestCounter.Set(seconds)
		slowestTimeCounter.Set(now.Format(time.RFC1123))
		slowestPathCounter.Set(r.URL.Path)
	}
	stats.totalSeconds += seconds
	totalSecondsCounter.Add(seconds)
	averageSecondsCounter.Set(stats.totalSeconds / float64(stats.hits))
	rw := w.(martini.ResponseWriter)
	if rw.Status() >= 400 {
		errorsCounter.Add(1)
	}
	goroutineCounter.Set(int64(runtime.NumGoroutine()))
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

// loggedExternalError logs the detailed message and sends the caller an
// ErrorResponse whose message is the localized text for code.
func loggedExternalError(w http.ResponseWriter, p *message.Printer, status int, exception, code string, args []interface{}, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)

	body := &ErrorResponse{
		Exception: exception,
		ErrorCode: code,
		Message:   p.Sprintf(code, args...),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("error writing error response: %v", err)
	}
	return errors.New(msg)
}

func logPrefix() string {
	prefix := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		prefix = fmt.Sprintf("%s:%d: ", file, line)
	}
	return prefix
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

var stats struct {
	sync.Mutex
	hits         int
	slowest      float64
	totalSeconds float64
}

var (
	hitsCounter           = expvar.NewInt("hits")
	slowestCounter        = expvar.NewFloat("slowestSeconds")
	slowestPathCounter    = expvar.NewString("slowestPath")
	slowestTimeCounter    = expvar.NewString("slowestTime")
	totalSecondsCounter   = expvar.NewFloat("totalSeconds")
	averageSecondsCounter = expvar.NewFloat("averageSeconds")
	errorsCounter         = expvar.NewInt("errors")
	goroutineCounter      = expvar.NewInt("goroutines")
	gradesSavedCounter    = expvar.NewInt("gradesSaved")
	gradesRejectedCounter = expvar.NewInt("gradesRejected")
)
