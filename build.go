//go:build ignore

// build.go - Casevault build script
// Usage: go run build.go [-target=TARGET] [-pubkey=HEX]
// Targets: all, casevault, keyissuer, test, clean

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	version = "0.1.0"
	module  = "casevault"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose   bool
	PublicKey string
}

var (
	distDir = "dist"

	// Executable names (key = source dir name, value = output name)
	executables = map[string]string{
		"casevault": "casevault",
		"keyissuer": "keyissuer",
	}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	pubkey := flag.String("pubkey", os.Getenv("CASEVAULT_PUBLIC_KEY"), "License verification key (64 hex chars) linked into casevault")
	flag.Parse()

	fmt.Println(colorCyan + "       Casevault - Build System      " + colorReset)

	startTime := time.Now()
	ctx := &BuildContext{Verbose: *verbose, PublicKey: strings.TrimSpace(*pubkey)}

	switch *target {
	case "all":
		buildExecutable("casevault", ctx)
		buildExecutable("keyissuer", ctx)
	case "casevault", "keyissuer":
		buildExecutable(*target, ctx)
	case "test":
		runTests(ctx.Verbose)
	case "clean":
		if err := os.RemoveAll(distDir); err != nil {
			printError(fmt.Sprintf("Failed to clean: %v", err))
			os.Exit(1)
		}
	default:
		fmt.Println("Targets: all, casevault, keyissuer, test, clean")
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func buildExecutable(name string, ctx *BuildContext) {
	exeName := executables[name]
	if runtime.GOOS == "windows" {
		exeName += ".exe"
	}
	fmt.Printf("Building %s...\n", name)

	ldflags := fmt.Sprintf("-s -w -X %s/internal/app.Version=%s", module, version)
	if name == "casevault" {
		if ctx.PublicKey == "" {
			printError("casevault needs -pubkey; the binary cannot verify licenses without it")
			os.Exit(1)
		}
		ldflags += fmt.Sprintf(" -X %s/internal/license.PublicKeyHex=%s", module, ctx.PublicKey)
	}

	outputPath := filepath.Join(distDir, exeName)
	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", outputPath, "./cmd/" + name}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
	}

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(outputPath); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", exeName, float64(info.Size())/1024/1024))
	}
}

func runTests(verbose bool) {
	args := []string{"test", "-race", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError("Tests failed")
		os.Exit(1)
	}
}

func printSuccess(msg string) {
	fmt.Println(colorGreen + "✓ " + msg + colorReset)
}

func printError(msg string) {
	fmt.Println(colorRed + "✗ " + msg + colorReset)
}
