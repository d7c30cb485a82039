package process_test

import (
	"errors"
	"testing"

	"gitlab.com/stephen-fox/gammahook/process"
	"gitlab.com/stephen-fox/gammahook/process/processtest"
)

func newTarget(t *testing.T, hostBits int, targetBits int) (*processtest.FakePlatform, *processtest.FakeProcess, *process.Process) {
	t.Helper()

	platform := processtest.NewFakePlatform(hostBits)
	fake := platform.AddProcess(1234, targetBits)

	p, err := process.Open(fake.PID(), process.OpenConfig{
		Platform: platform,
		OptResolver: process.NewSymbolResolver(process.SymbolResolverConfig{
			Platform:  platform,
			OptHelper: &processtest.Helper{Platform: platform},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	return platform, fake, p
}

func TestOpen_Bits(t *testing.T) {
	type testCase struct {
		hostBits     int
		targetBits   int
		noEmuQuery   bool
		expectedBits int
	}

	testCases := []testCase{
		{hostBits: 64, targetBits: 64, expectedBits: 64},
		{hostBits: 64, targetBits: 32, expectedBits: 32},
		{hostBits: 32, targetBits: 32, expectedBits: 32},
		{hostBits: 32, targetBits: 32, noEmuQuery: true, expectedBits: 32},
	}

	for _, tc := range testCases {
		platform := processtest.NewFakePlatform(tc.hostBits)
		platform.OptNoEmulationQuery = tc.noEmuQuery
		fake := platform.AddProcess(1, tc.targetBits)

		p, err := process.Open(fake.PID(), process.OpenConfig{Platform: platform})
		if err != nil {
			t.Fatalf("%+v - %v", tc, err)
		}

		if p.Bits() != tc.expectedBits {
			t.Fatalf("%+v - expected %d bits - got %d", tc, tc.expectedBits, p.Bits())
		}

		err = p.Close()
		if err != nil {
			t.Fatal(err)
		}

		if platform.OpenHandles() != 0 {
			t.Fatalf("%+v - %d handle(s) leaked", tc, platform.OpenHandles())
		}
	}
}

func TestOpen_32BitHost64BitTarget(t *testing.T) {
	platform := processtest.NewFakePlatform(32)
	fake := platform.AddProcess(1, 64)

	_, err := process.Open(fake.PID(), process.OpenConfig{Platform: platform})
	if !errors.Is(err, process.ErrBitnessMismatch) {
		t.Fatalf("expected ErrBitnessMismatch - got %v", err)
	}

	if platform.OpenHandles() != 0 {
		t.Fatalf("%d handle(s) leaked", platform.OpenHandles())
	}
}

func TestOpen_NoSuchProcess(t *testing.T) {
	platform := processtest.NewFakePlatform(64)

	_, err := process.Open(666, process.OpenConfig{Platform: platform})
	if !errors.Is(err, process.ErrProcessOpen) {
		t.Fatalf("expected ErrProcessOpen - got %v", err)
	}
}

func TestOpen_NilPlatform(t *testing.T) {
	_, err := process.Open(1, process.OpenConfig{})
	if !errors.Is(err, process.ErrProcessOpen) {
		t.Fatalf("expected ErrProcessOpen - got %v", err)
	}
}

func TestRegion_WriteRead(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	region, err := p.Allocate(8)
	if err != nil {
		t.Fatal(err)
	}

	err = region.Write([]byte("abcdefgh"))
	if err != nil {
		t.Fatal(err)
	}

	b := make([]byte, 8)
	err = region.Read(b)
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != "abcdefgh" {
		t.Fatalf("got %q", b)
	}

	err = region.Write(make([]byte, 9))
	if !errors.Is(err, process.ErrMemory) {
		t.Fatalf("expected ErrMemory for oversized write - got %v", err)
	}

	err = region.Free()
	if err != nil {
		t.Fatal(err)
	}

	err = region.Free()
	if !errors.Is(err, process.ErrMemory) {
		t.Fatalf("expected ErrMemory for double free - got %v", err)
	}

	err = region.Write([]byte("a"))
	if !errors.Is(err, process.ErrMemory) {
		t.Fatalf("expected ErrMemory for write after free - got %v", err)
	}

	if fake.Stats.Frees != 1 {
		t.Fatalf("expected 1 free - got %d", fake.Stats.Frees)
	}
}

func TestRegion_MakeExecutable(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	err := p.WithRegion(4, func(region *process.Region) error {
		err := region.MakeExecutable()
		if err != nil {
			return err
		}

		protection, _ := fake.ProtectionAt(region.Address())
		if protection != process.Execute {
			t.Fatalf("expected execute protection - got %s", protection)
		}

		err = region.Write([]byte{0x90})
		if !errors.Is(err, process.ErrMemory) {
			t.Fatalf("expected ErrMemory writing executable region - got %v", err)
		}

		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegion_Allocate_Invalid(t *testing.T) {
	_, _, p := newTarget(t, 64, 64)
	defer p.Close()

	_, err := p.Allocate(0)
	if !errors.Is(err, process.ErrMemory) {
		t.Fatalf("expected ErrMemory - got %v", err)
	}
}

func TestWithRegion_FreesOnError(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	expected := errors.New("whoops")

	err := p.WithRegion(16, func(*process.Region) error {
		return expected
	})
	if !errors.Is(err, expected) {
		t.Fatalf("expected %v - got %v", expected, err)
	}

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}
}

func TestWithRegion_FreesOnPanic(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	func() {
		defer func() {
			recover()
		}()

		_ = p.WithRegion(16, func(*process.Region) error {
			panic("whoops")
		})
	}()

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}
}

func TestThread_ExitCodeBeforeWait(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	fake.OptPendingThreads = true

	_, err := platform.LoadSystemModule(fake, processtest.Image{
		Path: `C:\Windows\System32\answer.dll`,
		Bits: 64,
		Exports: []processtest.Export{
			{
				Name: "Answer",
				OptFn: func(*processtest.FakeProcess, uintptr) uint32 {
					return 42
				},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	start, _ := fake.ExportAddress("answer.dll", "Answer")

	thread, err := p.CreateThread(start, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	alive, err := thread.IsAlive()
	if err != nil {
		t.Fatal(err)
	}

	if !alive {
		t.Fatal("expected thread to be alive")
	}

	_, err = thread.ExitCode()
	if !errors.Is(err, process.ErrThreadRunning) {
		t.Fatalf("expected ErrThreadRunning - got %v", err)
	}

	err = thread.Wait()
	if err != nil {
		t.Fatal(err)
	}

	code, err := thread.ExitCode()
	if err != nil {
		t.Fatal(err)
	}

	if code != 42 {
		t.Fatalf("expected 42 - got %d", code)
	}
}

func TestProcess_Execute(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	code := []byte{0xb8, 0x07, 0x00, 0x00, 0x00, 0xc3}

	fake.OptExecute = func(_ *processtest.FakeProcess, got []byte, arg uintptr) (uint32, bool) {
		if string(got[:len(code)]) != string(code) {
			return 0, false
		}
		return uint32(arg) + 7, true
	}

	result, err := p.Execute(code, 1)
	if err != nil {
		t.Fatal(err)
	}

	if result != 8 {
		t.Fatalf("expected 8 - got %d", result)
	}

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}
}

func TestModuleByName(t *testing.T) {
	_, _, p := newTarget(t, 64, 64)
	defer p.Close()

	for _, name := range []string{"kernel32", "KERNEL32.DLL", "Kernel32.dll"} {
		m, err := p.ModuleByName(name)
		if err != nil {
			t.Fatalf("%s - %v", name, err)
		}

		if m.Base == 0 || m.Handle != m.Base {
			t.Fatalf("%s - unexpected module: %+v", name, m)
		}
	}

	_, err := p.ModuleByName("nope")
	if !errors.Is(err, process.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound - got %v", err)
	}
}

func TestSymbolResolver_SameBits(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	kernel32, err := p.ModuleByName("kernel32.dll")
	if err != nil {
		t.Fatal(err)
	}

	addr, err := kernel32.ProcAddress("LoadLibraryW")
	if err != nil {
		t.Fatal(err)
	}

	expected, _ := fake.ExportAddress("kernel32.dll", "LoadLibraryW")
	if addr != expected {
		t.Fatalf("expected 0x%x - got 0x%x", expected, addr)
	}

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}
}

func TestSymbolResolver_32BitTargetCachesHelper(t *testing.T) {
	platform := processtest.NewFakePlatform(64)
	helper := &processtest.Helper{Platform: platform}
	resolver := process.NewSymbolResolver(process.SymbolResolverConfig{
		Platform:  platform,
		OptHelper: helper,
	})

	for _, pid := range []uint32{10, 11} {
		fake := platform.AddProcess(pid, 32)

		p, err := process.Open(pid, process.OpenConfig{
			Platform:    platform,
			OptResolver: resolver,
		})
		if err != nil {
			t.Fatal(err)
		}

		kernel32, err := p.ModuleByName("kernel32")
		if err != nil {
			t.Fatal(err)
		}

		for _, symbol := range []string{"LoadLibraryW", "FreeLibrary"} {
			addr, err := kernel32.ProcAddress(symbol)
			if err != nil {
				t.Fatal(err)
			}

			expected, _ := fake.ExportAddress("kernel32.dll", symbol)
			if addr != expected {
				t.Fatalf("%s - expected 0x%x - got 0x%x", symbol, expected, addr)
			}
		}

		err = p.Close()
		if err != nil {
			t.Fatal(err)
		}
	}

	if helper.Calls != 1 {
		t.Fatalf("expected helper to run once - got %d", helper.Calls)
	}
}

func TestSymbolResolver_HelperFails(t *testing.T) {
	platform := processtest.NewFakePlatform(64)
	fake := platform.AddProcess(10, 32)

	p, err := process.Open(fake.PID(), process.OpenConfig{
		Platform: platform,
		OptResolver: process.NewSymbolResolver(process.SymbolResolverConfig{
			Platform: platform,
			OptHelper: &processtest.Helper{
				Platform: platform,
				OptErr:   errors.New("helper crashed"),
			},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	kernel32, err := p.ModuleByName("kernel32")
	if err != nil {
		t.Fatal(err)
	}

	_, err = kernel32.ProcAddress("LoadLibraryW")
	if !errors.Is(err, process.ErrSymbolResolution) {
		t.Fatalf("expected ErrSymbolResolution - got %v", err)
	}
}

func TestSymbolResolver_Errors(t *testing.T) {
	_, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	kernel32, err := p.ModuleByName("kernel32.dll")
	if err != nil {
		t.Fatal(err)
	}

	for _, symbol := range []string{"DoesNotExist", "", "Caf\u00e9"} {
		_, err = kernel32.ProcAddress(symbol)
		if !errors.Is(err, process.ErrSymbolResolution) {
			t.Fatalf("%q - expected ErrSymbolResolution - got %v", symbol, err)
		}
	}

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}
}

func TestInject(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)

	path, err := platform.CreateImage(t.TempDir(), "thing64.dll", processtest.Image{
		Bits: 64,
		Exports: []processtest.Export{
			{Name: "Thing"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	m, status, err := p.Inject(path, true)
	if err != nil {
		t.Fatal(err)
	}

	if status != process.NewlyLoaded {
		t.Fatalf("expected %s - got %s", process.NewlyLoaded, status)
	}

	if m.Path != path {
		t.Fatalf("expected path %q - got %q", path, m.Path)
	}

	_, status, err = p.Inject(path, true)
	if err != nil {
		t.Fatal(err)
	}

	if status != process.AlreadyPresent {
		t.Fatalf("expected %s - got %s", process.AlreadyPresent, status)
	}

	if fake.Stats.LoadLibrary != 1 {
		t.Fatalf("expected one LoadLibraryW call - got %d", fake.Stats.LoadLibrary)
	}

	err = p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if _, loaded := fake.Module("thing64.dll"); loaded {
		t.Fatal("module was not ejected on close")
	}

	if fake.LiveRegions() != 0 {
		t.Fatalf("expected no live regions - got %d", fake.LiveRegions())
	}

	if platform.OpenHandles() != 0 {
		t.Fatalf("%d handle(s) leaked", platform.OpenHandles())
	}

	err = p.Close()
	if !errors.Is(err, process.ErrClosed) {
		t.Fatalf("expected ErrClosed - got %v", err)
	}
}

func TestInject_BitnessMismatch(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 32)
	defer p.Close()

	path, err := platform.CreateImage(t.TempDir(), "thing64.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	before := fake.Stats

	_, _, err = p.Inject(path, true)
	if !errors.Is(err, process.ErrBitnessMismatch) {
		t.Fatalf("expected ErrBitnessMismatch - got %v", err)
	}

	if fake.Stats != before {
		t.Fatalf("expected no remote operations - got %+v", fake.Stats)
	}
}

func TestInject_LoadedBySomeoneElse(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)

	path, err := platform.CreateImage(t.TempDir(), "theirs.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	image := processtest.Image{Path: path, Bits: 64}
	_, err = fake.Load(image)
	if err != nil {
		t.Fatal(err)
	}

	_, status, err := p.Inject(path, true)
	if err != nil {
		t.Fatal(err)
	}

	if status != process.AlreadyPresent {
		t.Fatalf("expected %s - got %s", process.AlreadyPresent, status)
	}

	err = p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if _, loaded := fake.Module("theirs.dll"); !loaded {
		t.Fatal("a module loaded by the target was ejected")
	}
}

func TestClose_EjectsInReverseOrder(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)
	dir := t.TempDir()

	for _, name := range []string{"a.dll", "b.dll", "c.dll"} {
		path, err := platform.CreateImage(dir, name, processtest.Image{Bits: 64})
		if err != nil {
			t.Fatal(err)
		}

		_, _, err = p.Inject(path, name != "b.dll")
		if err != nil {
			t.Fatal(err)
		}
	}

	if len(p.Injected()) != 3 {
		t.Fatalf("expected 3 tracked modules - got %v", p.Injected())
	}

	err := p.Close()
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"c.dll", "a.dll"}
	if len(fake.Unloaded) != len(expected) {
		t.Fatalf("expected %v to be unloaded - got %v", expected, fake.Unloaded)
	}

	for i := range expected {
		if fake.Unloaded[i] != expected[i] {
			t.Fatalf("expected %v to be unloaded - got %v", expected, fake.Unloaded)
		}
	}

	if _, loaded := fake.Module("b.dll"); !loaded {
		t.Fatal("b.dll should not have been ejected")
	}
}

func TestClose_TargetExited(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)

	path, err := platform.CreateImage(t.TempDir(), "thing.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = p.Inject(path, true)
	if err != nil {
		t.Fatal(err)
	}

	fake.Exit(0)
	freeLibraryCalls := fake.Stats.FreeLibrary

	err = p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if fake.Stats.FreeLibrary != freeLibraryCalls {
		t.Fatal("FreeLibrary was called on an exited process")
	}

	if platform.OpenHandles() != 0 {
		t.Fatalf("%d handle(s) leaked", platform.OpenHandles())
	}
}

func TestEject(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)
	defer p.Close()

	path, err := platform.CreateImage(t.TempDir(), "thing.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	wasTracked, err := p.Eject(path)
	if err != nil {
		t.Fatal(err)
	}

	if wasTracked {
		t.Fatal("expected untracked module")
	}

	_, _, err = p.Inject(path, false)
	if err != nil {
		t.Fatal(err)
	}

	wasTracked, err = p.Eject(path)
	if err != nil {
		t.Fatal(err)
	}

	if !wasTracked {
		t.Fatal("expected tracked module")
	}

	if _, loaded := fake.Module("thing.dll"); loaded {
		t.Fatal("module is still loaded")
	}

	if len(p.Injected()) != 0 {
		t.Fatalf("expected no tracked modules - got %v", p.Injected())
	}
}

func TestAdopt(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)

	path, err := platform.CreateImage(t.TempDir(), "left-behind.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	_, err = fake.Load(processtest.Image{Path: path, Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Adopt(path)
	if err != nil {
		t.Fatal(err)
	}

	err = p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if _, loaded := fake.Module("left-behind.dll"); loaded {
		t.Fatal("adopted module was not ejected")
	}
}

func TestResolveModulePath(t *testing.T) {
	platform := processtest.NewFakePlatform(64)
	dir := t.TempDir()

	expected, err := platform.CreateImage(dir, "mod.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	got, err := process.ResolveModulePath(dir + "/mod")
	if err != nil {
		t.Fatal(err)
	}

	if got != expected {
		t.Fatalf("expected %q - got %q", expected, got)
	}

	_, err = process.ResolveModulePath(dir)
	if err == nil {
		t.Fatal("expected an error for a directory")
	}

	_, err = process.ResolveModulePath("")
	if err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestRelease(t *testing.T) {
	platform, fake, p := newTarget(t, 64, 64)

	path, err := platform.CreateImage(t.TempDir(), "keep.dll", processtest.Image{Bits: 64})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = p.Inject(path, true)
	if err != nil {
		t.Fatal(err)
	}

	released, err := p.Release(path)
	if err != nil {
		t.Fatal(err)
	}

	if !released {
		t.Fatal("expected module to be tracked")
	}

	err = p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if _, loaded := fake.Module("keep.dll"); !loaded {
		t.Fatal("released module was ejected")
	}
}

func TestOpenOrExit(t *testing.T) {
	origExitFn := process.DefaultExitFn
	defer func() {
		process.DefaultExitFn = origExitFn
	}()

	var exitErr error
	process.DefaultExitFn = func(err error) {
		exitErr = err
	}

	platform := processtest.NewFakePlatform(64)

	p := process.OpenOrExit(1234, process.OpenConfig{
		Platform: platform,
	})
	if exitErr == nil {
		t.Fatal("opening a missing process should call the exit function")
	}

	if p != nil {
		t.Fatal("expected a nil process")
	}
}
