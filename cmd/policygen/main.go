package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technosupport/ome-policy/internal/batch"
	"github.com/technosupport/ome-policy/internal/config"
	"github.com/technosupport/ome-policy/internal/metrics"
	"github.com/technosupport/ome-policy/internal/policy"
	"github.com/technosupport/ome-policy/internal/signer"
)

const defaultProfile = "default"

const usage = `Usage: policygen <command> [flags]

Commands:
  sign     print one signed policy URL
  batch    sign JSON requests from stdin, one per line
  inspect  decode a signed policy URL (does not verify it)

Example:
  policygen sign -base-url ws://127.0.0.1:3333/app/stream -secret ome_secret -url-expire-in 1h
`

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	var runErr error
	switch os.Args[1] {
	case "sign":
		runErr = runSign(env, os.Args[2:], os.Stdout)
	case "batch":
		runErr = runBatch(env, os.Args[2:], os.Stdin, os.Stdout)
	case "inspect":
		runErr = runInspect(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if runErr != nil {
		if errors.Is(runErr, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("[ERROR] %v", runErr)
		os.Exit(1)
	}
}

func runSign(env config.Env, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	configPath := fs.String("config", env.ConfigPath, "profile file (default $POLICYGEN_HOME/config.yaml)")
	profileName := fs.String("profile", env.Profile, "profile name")
	baseURL := fs.String("base-url", "", "stream url, e.g. ws://host:3333/app/stream")
	secret := fs.String("secret", "", "shared HMAC secret (default: profile, then $POLICYGEN_SECRET_KEY)")
	policyKey := fs.String("policy-key", "", "policy query parameter name (default \"policy\")")
	signatureKey := fs.String("signature-key", "", "signature query parameter name (default \"signature\")")
	allowIP := fs.String("allow-ip", "", "allowed client address or CIDR")
	requireExpire := fs.Bool("require-url-expire", false, "fail when url_expire is not set")
	validateIP := fs.Bool("validate-allow-ip", false, "fail when allow_ip is not an address or CIDR")
	urlExpireIn := fs.Duration("url-expire-in", 0, "url_expire relative to now")
	streamExpireIn := fs.Duration("stream-expire-in", 0, "stream_expire relative to now")
	metricsFile := fs.String("metrics-file", env.MetricsFile, "write prometheus textfile metrics here")
	var urlExpire, urlActivate, streamExpire optionalInt64
	fs.Var(&urlExpire, "url-expire", "url_expire, epoch milliseconds")
	fs.Var(&urlActivate, "url-activate", "url_activate, epoch milliseconds")
	fs.Var(&streamExpire, "stream-expire", "stream_expire, epoch milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prof, err := loadProfile(*configPath, *profileName)
	if err != nil {
		return err
	}

	// flags win over the profile, which wins over the environment
	if prof.SecretKey == "" {
		prof.SecretKey = env.SecretKey
	}
	if *baseURL != "" {
		prof.BaseURL = *baseURL
	}
	if *secret != "" {
		prof.SecretKey = *secret
	}
	if *policyKey != "" {
		prof.PolicyQueryKey = *policyKey
	}
	if *signatureKey != "" {
		prof.SignatureQueryKey = *signatureKey
	}
	if *allowIP != "" {
		prof.AllowIP = *allowIP
	}
	if *urlExpireIn > 0 {
		prof.URLTTL = *urlExpireIn
	}
	if *streamExpireIn > 0 {
		prof.StreamTTL = *streamExpireIn
	}
	prof.Options.RequireURLExpire = prof.Options.RequireURLExpire || *requireExpire
	prof.Options.ValidateAllowIP = prof.Options.ValidateAllowIP || *validateIP

	if err := prof.Validate(); err != nil {
		return err
	}

	now := time.Now()
	c := policy.Constraints{
		URLExpire:    urlExpire.resolve(prof.URLTTL, now),
		URLActivate:  urlActivate.value,
		StreamExpire: streamExpire.resolve(prof.StreamTTL, now),
		AllowIP:      prof.AllowIP,
	}

	rec := metrics.NewRecorder()
	start := time.Now()
	url, err := signer.New(prof.SignerConfig()).Sign(prof.BaseURL, prof.SecretKey, c)
	rec.ObserveSign(prof.Name, err, time.Since(start))
	flushMetrics(rec, *metricsFile)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, url)
	return nil
}

func runBatch(env config.Env, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	configPath := fs.String("config", env.ConfigPath, "profile file (default $POLICYGEN_HOME/config.yaml)")
	profileName := fs.String("profile", env.Profile, "profile for requests that name none")
	watch := fs.Bool("watch", false, "reload the profile file when it changes")
	pollInterval := fs.Duration("poll-interval", config.DefaultPollInterval, "mtime poll interval when watching")
	cacheSize := fs.Int("cache-size", signer.DefaultCacheSize, "signed url cache entries")
	metricsFile := fs.String("metrics-file", env.MetricsFile, "write prometheus textfile metrics here")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.ResolveConfigPath(*configPath)
	store, err := config.NewStore(path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *watch {
		store.OnReload = func(f *config.File) {
			log.Printf("[INFO] Batch: profiles reloaded from %s (%d profiles)", path, len(f.Profiles))
		}
		store.StartWatcher(ctx, *pollInterval)
	}

	cache, err := signer.NewCache(*cacheSize)
	if err != nil {
		return err
	}
	rec := metrics.NewRecorder()

	proc := batch.NewProcessor(store, batch.Config{
		DefaultProfile: *profileName,
		Cache:          cache,
		Metrics:        rec,
	})
	err = proc.Run(ctx, stdin, stdout)
	flushMetrics(rec, *metricsFile)
	return err
}

func runInspect(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	policyKey := fs.String("policy-key", signer.DefaultPolicyQueryKey, "policy query parameter name")
	signatureKey := fs.String("signature-key", signer.DefaultSignatureQueryKey, "signature query parameter name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect takes exactly one url")
	}

	d, err := signer.Decode(fs.Arg(0), *policyKey, *signatureKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "signed:    %s\n", d.SignedPrefix)
	fmt.Fprintf(stdout, "policy:    %s\n", d.PolicyJSON)
	fmt.Fprintf(stdout, "signature: %s\n", hex.EncodeToString(d.Signature))
	return nil
}

// loadProfile returns the named profile before flag overrides. Without a
// profile file, or when the default profile is not defined, the caller
// supplies everything through flags.
func loadProfile(configPath, name string) (config.Profile, error) {
	path := config.ResolveConfigPath(configPath)
	f, err := config.Load(path)
	if err != nil {
		if configPath == "" && errors.Is(err, os.ErrNotExist) {
			return config.Profile{
				Name:              name,
				PolicyQueryKey:    signer.DefaultPolicyQueryKey,
				SignatureQueryKey: signer.DefaultSignatureQueryKey,
			}, nil
		}
		return config.Profile{}, err
	}

	prof, err := f.Resolve(name)
	if errors.Is(err, config.ErrProfileNotFound) && name == defaultProfile {
		return f.DefaultsOnly(name), nil
	}
	return prof, err
}

func flushMetrics(rec *metrics.Recorder, path string) {
	if path == "" {
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		log.Printf("[WARN] %v", err)
	}
}
