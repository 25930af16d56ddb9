package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/uartboot/internal/bootloader"
	"github.com/bigbag/uartboot/internal/client"
	"github.com/bigbag/uartboot/internal/config"
	"github.com/bigbag/uartboot/internal/detect"
	"github.com/bigbag/uartboot/internal/device"
	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/logging"
	"github.com/bigbag/uartboot/internal/memory"
	"github.com/bigbag/uartboot/internal/protocol"
	"github.com/bigbag/uartboot/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag  string
	portFlag    string
	baudFlag    int
	resetFlag   bool
	verifyFlag  bool
	addressFlag string
	allFlag     bool
	modeFlag    string
	imageFlag   string
	appModeFlag bool
)

var (
	cfg    config.Config
	logger zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uartboot",
		Short: "Serial bootloader for STM32F407 devices",
		Long: `uartboot serves and drives a UART firmware bootloader for STM32F407
parts.

"serve" runs the bootloader against a simulated device on a serial port.
The other commands talk to a running bootloader from the host side.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configFlag)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = portFlag
			}
			if cmd.Flags().Changed("baud") {
				cfg.Baud = baudFlag
			}
			logger = logging.New("uartboot", cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (embedded defaults if not specified)")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bootloader on a serial port",
		Long: `Run the bootloader against the simulated STM32F407 whose flash, option
bytes and OTP area persist in the device image file.

The loop ends when a JUMP_TO_ADDRESS is accepted or on a fatal fault.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	serveCmd.Flags().StringVar(&imageFlag, "image", "", "Device image file (from config if not specified)")
	serveCmd.Flags().BoolVar(&appModeFlag, "app", false, "Skip the command loop and hand off to the application")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect bootloaders and show chip, version and protection state.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}
	infoCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset into the bootloader with DTR/RTS first")

	// Erase command
	eraseCmd := &cobra.Command{
		Use:   "erase [sector] [count]",
		Short: "Erase flash sectors",
		Args:  cobra.RangeArgs(0, 2),
		RunE:  runErase,
	}
	eraseCmd.Flags().BoolVar(&allFlag, "all", false, "Mass erase")
	eraseCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset into the bootloader with DTR/RTS first")

	// Write command
	writeCmd := &cobra.Command{
		Use:   "write <firmware.bin>",
		Short: "Flash a firmware image",
		Long: `Erase the sectors under the image, program it and read it back.

The image goes to the application base 0x08008000 unless --address is set.`,
		Args: cobra.ExactArgs(1),
		RunE: runWrite,
	}
	writeCmd.Flags().StringVarP(&addressFlag, "address", "a", "", "Target address (application base if not specified)")
	writeCmd.Flags().BoolVar(&verifyFlag, "verify", true, "Verify after flashing")
	writeCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset into the bootloader with DTR/RTS first")

	// Read command
	readCmd := &cobra.Command{
		Use:   "read <address> <length> <out.bin>",
		Short: "Read memory to a file",
		Args:  cobra.ExactArgs(3),
		RunE:  runRead,
	}
	readCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset into the bootloader with DTR/RTS first")

	// Go command
	goCmd := &cobra.Command{
		Use:   "go [address]",
		Short: "Jump to an application",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runGo,
	}

	// Protect command
	protectCmd := &cobra.Command{
		Use:   "protect <sector-mask>",
		Short: "Protect flash sectors",
		Long: `Protect the sectors whose bits are set in the mask (bit n = sector n).

--mode write adds write protection. --mode rw switches to read-and-write
protection with exactly the masked sectors protected.`,
		Args: cobra.ExactArgs(1),
		RunE: runProtect,
	}
	protectCmd.Flags().StringVar(&modeFlag, "mode", "write", "Protection mode: write or rw")

	// Unprotect command
	unprotectCmd := &cobra.Command{
		Use:   "unprotect",
		Short: "Remove all sector protection",
		Args:  cobra.NoArgs,
		RunE:  runUnprotect,
	}

	// OTP command
	otpCmd := &cobra.Command{
		Use:   "otp <block>",
		Short: "Read an OTP block",
		Args:  cobra.ExactArgs(1),
		RunE:  runOTP,
	}

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.WriteTOML(os.Stdout)
		},
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("uartboot %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
			fmt.Printf("  bootloader protocol: 0x%02X\n", protocol.BootloaderVersion)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(serveCmd, infoCmd, eraseCmd, writeCmd, readCmd, goCmd,
		protectCmd, unprotectCmd, otpCmd, configCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Port == "" {
		return fmt.Errorf("serve needs a port: use --port or set serial.port")
	}
	image := cfg.Image
	if imageFlag != "" {
		image = imageFlag
	}
	enter := cfg.EnterBootloader
	if cmd.Flags().Changed("app") {
		enter = !appModeFlag
	}

	_, statErr := os.Stat(image)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	dev, err := device.Open(image,
		device.WithIDCode(cfg.IDCode),
		device.WithEraseTime(cfg.EraseTime),
	)
	if err != nil {
		return err
	}
	if fresh && cfg.AppBinary != "" {
		if err := dev.LoadBinary(memory.AppBase, cfg.AppBinary); err != nil {
			return err
		}
		if err := dev.Save(); err != nil {
			return err
		}
		logger.Info().Str("binary", cfg.AppBinary).Msg("preloaded application")
	}

	port, err := serial.OpenDevice(cfg.Port, cfg.Baud)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	mgr := flash.NewManager(dev)
	mgr.ProtectBootloader = cfg.ProtectBootloader

	logger.Info().
		Str("port", cfg.Port).
		Int("baud", cfg.Baud).
		Str("image", image).
		Uint16("chip", dev.ChipID()).
		Bool("bootloader", enter).
		Msg("serving")

	d := bootloader.New(serial.NewLink(port), mgr, dev, bootloader.WithLogger(logger))
	handoff, err := d.Boot(enter)
	if err != nil {
		logger.Error().Err(err).Str("state", d.State().String()).Msg("bootloader halted")
		return err
	}

	logger.Info().
		Str("address", fmt.Sprintf("0x%08X", handoff.Address)).
		Str("msp", fmt.Sprintf("0x%08X", handoff.StackPointer)).
		Str("reset", fmt.Sprintf("0x%08X", handoff.ResetHandler)).
		Msg("handoff")
	fmt.Println(handoff)
	return nil
}

// connect opens the host port and syncs with the bootloader.
func connect() (*client.Client, *serial.Port, error) {
	portName := cfg.Port
	if portName == "" {
		fmt.Println("Detecting device...")
		result, err := detect.DetectDevice(cfg.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found %s on %s\n", result.ChipName, result.Port)
	}

	port, err := serial.Open(portName, cfg.Baud)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}

	fmt.Printf("Port: %s @ %d baud\n", portName, cfg.Baud)

	if resetFlag {
		if err := port.ResetToBootloader(); err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("failed to reset into bootloader: %w", err)
		}
	}

	c := client.New(port, client.WithLogger(logger))
	if _, err := c.Sync(); err != nil {
		port.Close()
		return nil, nil, err
	}
	return c, port, nil
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func runInfo(cmd *cobra.Command, args []string) error {
	if cfg.Port == "" {
		// Auto-detect
		fmt.Println("Scanning for bootloaders...")
		devices, err := detect.ListDevices(cfg.Baud)
		if err != nil {
			return err
		}

		if len(devices) == 0 {
			fmt.Println("No bootloaders found")
			return nil
		}

		fmt.Printf("Found %d device(s):\n\n", len(devices))
		for i, d := range devices {
			fmt.Printf("Device %d:\n", i+1)
			printDeviceInfo(&d)
			fmt.Println()
		}
		return nil
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	result, err := detect.Probe(c, cfg.Port)
	if err != nil {
		return err
	}
	printDeviceInfo(result)

	cmds, err := c.GetHelp()
	if err != nil {
		return err
	}
	fmt.Printf("  Commands: %d\n", len(cmds))
	for _, cmd := range cmds {
		fmt.Printf("    0x%02X %v\n", byte(cmd), cmd)
	}

	rdp, err := c.GetRDP()
	if err != nil {
		return err
	}
	fmt.Printf("  RDP:      0x%02X\n", rdp)

	status, err := c.ReadSectorProtection()
	if err != nil {
		return err
	}
	printProtection(status)
	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:     %s\n", d.Port)
	fmt.Printf("  Chip:     %s\n", d.ChipName)
	if d.ChipID != 0 {
		fmt.Printf("  Chip ID:  0x%03X\n", d.ChipID)
	}
	fmt.Printf("  Version:  %d.%d\n", d.Version>>4, d.Version&0x0F)
}

func printProtection(status flash.ProtectionStatus) {
	mode := "write"
	if status.PCROP() {
		mode = "read-write"
	}
	fmt.Printf("  Protection (%s, raw 0x%04X):\n", mode, uint16(status))
	for _, s := range flash.Sectors() {
		state := "-"
		switch {
		case status.ReadProtected(s.Number):
			state = "read-write protected"
		case status.WriteProtected(s.Number):
			state = "write protected"
		}
		fmt.Printf("    sector %d  0x%08X  %4dK  %s\n", s.Number, s.Base, s.Size/1024, state)
	}
}

func runErase(cmd *cobra.Command, args []string) error {
	var sector, count byte = flash.MassErase, 1
	switch {
	case allFlag:
	case len(args) == 0:
		return fmt.Errorf("give a sector number or --all")
	default:
		v, err := parseUint(args[0], 8)
		if err != nil {
			return err
		}
		sector = byte(v)
		if len(args) == 2 {
			v, err := parseUint(args[1], 8)
			if err != nil {
				return err
			}
			count = byte(v)
		}
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	if sector == flash.MassErase {
		fmt.Println("Erasing all sectors...")
	} else {
		fmt.Printf("Erasing %d sector(s) from %d...\n", count, sector)
	}
	if err := c.Erase(sector, count); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	address := uint32(memory.AppBase)
	if addressFlag != "" {
		v, err := parseUint(addressFlag, 32)
		if err != nil {
			return err
		}
		address = uint32(v)
	}

	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(firmware))

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	bar := newBar(len(firmware), "Flashing")
	c.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	fmt.Printf("\nFlashing at 0x%08X...\n", address)
	if err := c.FlashImage(firmware, address, verifyFlag); err != nil {
		return err
	}

	bar.Finish()
	fmt.Println("\nFlash complete!")
	if verifyFlag {
		fmt.Println("Verified.")
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	address, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	length, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	if length == 0 {
		return fmt.Errorf("length must be positive")
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	bar := newBar(int(length), "Reading")
	c.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	data, err := c.ReadMemory(uint32(address), int(length))
	if err != nil {
		return err
	}
	bar.Finish()

	if err := os.WriteFile(args[2], data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[2], err)
	}
	fmt.Printf("\nRead %d bytes from 0x%08X into %s\n", len(data), address, args[2])
	return nil
}

func runGo(cmd *cobra.Command, args []string) error {
	address := uint32(memory.AppBase)
	if len(args) == 1 {
		v, err := parseUint(args[0], 32)
		if err != nil {
			return err
		}
		address = uint32(v)
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	if err := c.Go(address); err != nil {
		return err
	}
	fmt.Printf("Jumped to 0x%08X\n", address)
	return nil
}

func runProtect(cmd *cobra.Command, args []string) error {
	mask, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}

	var mode byte
	switch modeFlag {
	case "write":
		mode = protocol.ModeWriteProtect
	case "rw", "read-write":
		mode = protocol.ModeReadWriteProtect
	default:
		return fmt.Errorf("unknown protection mode %q", modeFlag)
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	if err := c.EnableProtect(byte(mask), mode); err != nil {
		return err
	}
	status, err := c.ReadSectorProtection()
	if err != nil {
		return err
	}
	printProtection(status)
	return nil
}

func runUnprotect(cmd *cobra.Command, args []string) error {
	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	if err := c.DisableProtect(); err != nil {
		return err
	}
	fmt.Println("All sector protection removed")
	return nil
}

func runOTP(cmd *cobra.Command, args []string) error {
	block, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}

	c, port, err := connect()
	if err != nil {
		return err
	}
	defer port.Close()

	data, lock, err := c.ReadOTP(byte(block))
	if err != nil {
		return err
	}

	state := "unlocked"
	if lock == 0x00 {
		state = "locked"
	}
	fmt.Printf("OTP block %d (%s):\n", block, state)
	for off := 0; off < len(data); off += 16 {
		fmt.Printf("  %02X: % X\n", off, data[off:off+16])
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
