package main

import "testing"

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"Wallet? = 0xabc", "Team size=3=solo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Question != "Wallet?" || got[0].Answer != "0xabc" || got[1].Answer != "3=solo" {
		t.Fatalf("answers = %+v", got)
	}
	if got, err := parseAnswers(nil); err != nil || got != nil {
		t.Fatalf("empty = %+v (%v)", got, err)
	}
	for _, bad := range []string{"no separator", "=answer"} {
		if _, err := parseAnswers([]string{bad}); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestReward(t *testing.T) {
	amount := 1500.0
	if reward(&amount) != "1500" || reward(nil) != "" {
		t.Fatalf("reward formatting wrong")
	}
}
