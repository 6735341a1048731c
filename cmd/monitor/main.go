// Command monitor polls one Modbus TCP device and prints every pass, with an
// optional write before monitoring starts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/KevinKickass/ModbusMonitor/internal/devices"
	"github.com/KevinKickass/ModbusMonitor/internal/modbus"
	"github.com/KevinKickass/ModbusMonitor/internal/report"
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "YAML config file with modbus defaults")
	fs.String("name", "device", "device name used in output")
	fs.String("host", "127.0.0.1", "device host")
	fs.Int("port", 0, "device port (default from config)")
	fs.Int("unit", 0, "unit id (default from config)")
	fs.Duration("interval", 0, "poll interval (default from config)")
	fs.Duration("timeout", 0, "request timeout (default from config)")
	fs.Int("retries", -1, "retries on timeout (default from config)")
	fs.Int("start", 1, "first holding register to monitor")
	fs.Int("end", 26, "last holding register to monitor (inclusive)")
	fs.StringSlice("register", nil, "additional range kind:address:count, e.g. coil:0:16 (repeatable)")
	fs.Bool("write", false, "write --values to holding registers at --address")
	fs.Int("address", -1, "holding register address for --write")
	fs.String("values", "", "comma separated values, decimal or 0x hex")
	fs.Bool("monitor", false, "keep monitoring after --write")
	fs.Bool("debug", false, "log Modbus frames")
	fs.String("log-level", "info", "log level")
	return fs
}

func run(args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	cfg, err := config.LoadWith(v, v.GetString("config"))
	if err != nil {
		return err
	}

	logger, err := newLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	def, err := definitionFrom(v)
	if err != nil {
		return err
	}
	validator, err := devices.NewValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return err
	}
	connCfg, specs, err := def.Resolve(cfg.Modbus.Defaults())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := modbus.NewConnection(connCfg, modbus.TCPDialer(logger), logger)
	if err != nil {
		return err
	}
	engine := modbus.NewEngine(def.Name, conn, logger)
	for _, spec := range specs {
		engine.AddSpec(spec)
	}

	printBanner(connCfg, specs)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", conn.Endpoint(), err)
	}
	defer conn.Disconnect()

	if v.GetBool("write") {
		if err := writeFromFlags(ctx, engine, v.GetInt("address"), v.GetString("values")); err != nil {
			return err
		}
		if !v.GetBool("monitor") {
			return nil
		}
	}

	monitor := modbus.NewMonitor(engine, report.NewConsoleSink(os.Stdout), modbus.MonitorOptions{
		MaxConsecutiveErrors: cfg.Modbus.MaxConsecutiveErrors,
	}, logger)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	fmt.Println("Press Ctrl+C to stop monitoring")

	select {
	case <-ctx.Done():
		monitor.Stop()
	case <-monitor.Done():
	}
	return monitor.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// definitionFrom maps the command line onto a device definition so it goes
// through the same validation and defaults as definition files.
func definitionFrom(v *viper.Viper) (types.DeviceDefinition, error) {
	start, end := v.GetInt("start"), v.GetInt("end")
	def := types.DeviceDefinition{
		Name:         v.GetString("name"),
		Host:         v.GetString("host"),
		Port:         v.GetInt("port"),
		Timeout:      types.Duration(v.GetDuration("timeout")),
		PollInterval: types.Duration(v.GetDuration("interval")),
		Debug:        v.GetBool("debug"),
		StartAddress: &start,
		EndAddress:   &end,
	}
	if unit := v.GetInt("unit"); unit > 0 {
		def.UnitID = &unit
	}
	if retries := v.GetInt("retries"); retries >= 0 {
		def.Retries = &retries
	}

	for _, raw := range v.GetStringSlice("register") {
		spec, err := parseRegister(raw)
		if err != nil {
			return def, err
		}
		def.Registers = append(def.Registers, spec)
	}
	return def, nil
}

// parseRegister parses "kind:address:count".
func parseRegister(raw string) (types.RegisterSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return types.RegisterSpec{}, fmt.Errorf("register %q: want kind:address:count", raw)
	}
	kind, err := types.ParseRegisterKind(parts[0])
	if err != nil {
		return types.RegisterSpec{}, err
	}
	address, err := strconv.ParseUint(parts[1], 0, 16)
	if err != nil {
		return types.RegisterSpec{}, fmt.Errorf("register %q: address: %w", raw, err)
	}
	count, err := strconv.ParseUint(parts[2], 0, 16)
	if err != nil {
		return types.RegisterSpec{}, fmt.Errorf("register %q: count: %w", raw, err)
	}
	spec := types.RegisterSpec{Kind: kind, Address: uint16(address), Count: uint16(count)}
	return spec, spec.Validate()
}

// parseValues accepts "100,200" as well as "0x64,0xC8".
func parseValues(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("--values is required when using --write")
	}
	var values []int
	for _, s := range strings.Split(raw, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", s, err)
		}
		if n < 0 || n > 0xFFFF {
			return nil, fmt.Errorf("value %d out of range (0-65535)", n)
		}
		values = append(values, int(n))
	}
	return values, nil
}

func writeFromFlags(ctx context.Context, engine *modbus.Engine, address int, rawValues string) error {
	if address < 0 || address > 0xFFFF {
		return errors.New("--address is required when using --write")
	}
	values, err := parseValues(rawValues)
	if err != nil {
		return err
	}

	if len(values) == 1 {
		err = engine.WriteOne(ctx, types.RegisterHolding, uint16(address), values[0])
	} else {
		err = engine.WriteMany(ctx, types.RegisterHolding, uint16(address), values)
	}
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	fmt.Printf("Wrote %d register(s) at %d (0x%04X): %v\n", len(values), address, address, values)
	return nil
}

func printBanner(cfg types.ConnectionConfig, specs []types.RegisterSpec) {
	rule := strings.Repeat("=", 72)
	fmt.Println(rule)
	fmt.Printf("Target Device    : %s\n", cfg.Address())
	fmt.Printf("Unit ID          : %d\n", cfg.UnitID)
	fmt.Printf("Poll Interval    : %s\n", cfg.PollInterval)
	for _, s := range specs {
		fmt.Printf("Register Range   : %s %d to %d (0x%04X to 0x%04X, %d)\n",
			s.Kind, s.Address, int(s.Address)+int(s.Count)-1,
			s.Address, int(s.Address)+int(s.Count)-1, s.Count)
	}
	fmt.Println(rule)
}
