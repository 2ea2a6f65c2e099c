// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorclass

import (
	"errors"
	"testing"

	"github.com/race-rt/race/actorrt"
)

type stubActor struct{}

func (stubActor) Initialize(ctx *actorrt.Context) error { return nil }
func (stubActor) Start(ctx *actorrt.Context) error       { return nil }
func (stubActor) Terminate(ctx *actorrt.Context) error   { return nil }
func (stubActor) Handle(ctx *actorrt.Context, msg any)   {}

func TestRegisterAndLookupRoundTrip(t *testing.T) {
	const class = "actorclass_test.stub"
	Register(class, func(params map[string]string) (actorrt.Actor, error) {
		return stubActor{}, nil
	})

	factory, ok := Lookup(class)
	if !ok {
		t.Fatalf("expected class %q to be registered", class)
	}
	actor, err := factory(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := actor.(stubActor); !ok {
		t.Fatalf("factory returned %T, want stubActor", actor)
	}
}

func TestLookupUnknownClassReportsAbsence(t *testing.T) {
	if _, ok := Lookup("actorclass_test.does-not-exist"); ok {
		t.Fatalf("expected an unregistered class to report absence")
	}
}

func TestNamesIncludesRegisteredClassesSorted(t *testing.T) {
	Register("actorclass_test.zeta", func(map[string]string) (actorrt.Actor, error) { return stubActor{}, nil })
	Register("actorclass_test.alpha", func(map[string]string) (actorrt.Actor, error) { return stubActor{}, nil })

	names := Names()
	var alphaIdx, zetaIdx = -1, -1
	for i, n := range names {
		switch n {
		case "actorclass_test.alpha":
			alphaIdx = i
		case "actorclass_test.zeta":
			zetaIdx = i
		}
	}
	if alphaIdx == -1 || zetaIdx == -1 {
		t.Fatalf("Names() missing a registered class: %v", names)
	}
	if alphaIdx > zetaIdx {
		t.Fatalf("Names() not sorted ascending: %v", names)
	}
}

func TestFactoryErrorPropagates(t *testing.T) {
	const class = "actorclass_test.failing"
	wantErr := errors.New("boom")
	Register(class, func(map[string]string) (actorrt.Actor, error) {
		return nil, wantErr
	})

	factory, ok := Lookup(class)
	if !ok {
		t.Fatalf("expected class %q to be registered", class)
	}
	if _, err := factory(nil); !errors.Is(err, wantErr) {
		t.Fatalf("factory error = %v, want %v", err, wantErr)
	}
}
